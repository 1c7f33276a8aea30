package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ProxyURLs expands PROXY_LIST into proxy URLs.
// Format: PROXY_LIST="host1:port1:user1:pass1,host2:port2"
func (p ProxyConfig) ProxyURLs() []string {
	if strings.TrimSpace(p.List) == "" {
		return nil
	}

	urls := make([]string, 0)
	for _, entry := range strings.Split(p.List, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		if len(parts) >= 4 && parts[2] != "" && parts[3] != "" {
			urls = append(urls, fmt.Sprintf("%s://%s:%s@%s:%s",
				p.Type,
				url.QueryEscape(parts[2]),
				url.QueryEscape(parts[3]),
				parts[0],
				parts[1]))
			continue
		}
		urls = append(urls, fmt.Sprintf("%s://%s:%s", p.Type, parts[0], parts[1]))
	}
	return urls
}
