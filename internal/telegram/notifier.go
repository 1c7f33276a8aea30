// Package telegram sends operator alerts through a Telegram bot.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

const DefaultAPIURL = "https://api.telegram.org"

// Notifier posts alerts asynchronously. A notifier without token or chat id
// only logs.
type Notifier struct {
	token  string
	chatID string
	apiURL string
	client *http.Client
	log    *logrus.Entry
	now    func() time.Time

	wg sync.WaitGroup
}

func NewNotifier(token, chatID string, log *logrus.Entry) *Notifier {
	return &Notifier{
		token:  token,
		chatID: chatID,
		apiURL: DefaultAPIURL,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
		now:    time.Now,
	}
}

// WithAPIURL points the notifier at another Bot API host.
func (n *Notifier) WithAPIURL(url string) *Notifier {
	n.apiURL = url
	return n
}

func (n *Notifier) Enabled() bool {
	return n.token != "" && n.chatID != ""
}

// Send posts one HTML message and waits for the API answer.
func (n *Notifier) Send(ctx context.Context, message string) error {
	if !n.Enabled() {
		return nil
	}
	payload, err := json.Marshal(map[string]string{
		"chat_id":    n.chatID,
		"text":       message,
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiURL, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) alert(kind, message string) {
	n.log.WithField("alert", kind).Warn(stripTags(message))
	if !n.Enabled() {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := n.Send(ctx, message); err != nil {
			n.log.WithError(err).Errorf("[Telegram] Failed to send %s alert", kind)
		}
	}()
}

// Wait blocks until queued alerts were delivered or gave up.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) stamp() string {
	return n.now().Format("2006-01-02 15:04:05")
}

func (n *Notifier) SessionLoggedOut(name, reason string) {
	n.alert("logged_out", fmt.Sprintf(`⚠️ <b>LOGGED OUT</b>

📱 Session: %s
📝 Reason: %s
⚠️ Needs a new pairing
⏰ Time: %s`, name, reason, n.stamp()))
}

func (n *Notifier) SessionFault(name, reason string) {
	n.alert("fault", fmt.Sprintf(`🚨 <b>SESSION FAULT</b>

📱 Session: %s
❌ Error: %s
⏰ Time: %s`, name, reason, n.stamp()))
}

func (n *Notifier) CampaignDone(name string, sent, failed int, duration time.Duration) {
	n.alert("campaign_done", fmt.Sprintf(`✅ <b>CAMPAIGN DONE</b>

📣 Campaign: %s
📤 Sent: %s
❌ Failed: %s
⏱️ Duration: %s
⏰ Time: %s`, name, humanize.Comma(int64(sent)), humanize.Comma(int64(failed)), duration.Round(time.Second), n.stamp()))
}

func stripTags(s string) string {
	var b bytes.Buffer
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case r == '\n':
			if !inTag {
				b.WriteRune(' ')
			}
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
