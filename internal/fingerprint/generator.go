// Package fingerprint derives stable companion-device identities so each
// session presents the same device across restarts.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Device is a deterministic companion identity.
type Device struct {
	DeviceID     string // 16 hex chars
	ComputerName string // DESKTOP-XXXXXXX
	OS           string
	Timezone     string
	Language     string
	Country      string
}

type locale struct {
	Timezone string
	Language string
}

var locales = map[string]locale{
	"BR": {Timezone: "America/Sao_Paulo", Language: "pt-BR"},
	"US": {Timezone: "America/New_York", Language: "en-US"},
	"PT": {Timezone: "Europe/Lisbon", Language: "pt-PT"},
	"AR": {Timezone: "America/Argentina/Buenos_Aires", Language: "es-AR"},
	"MX": {Timezone: "America/Mexico_City", Language: "es-MX"},
	"GB": {Timezone: "Europe/London", Language: "en-GB"},
	"IL": {Timezone: "Asia/Jerusalem", Language: "he-IL"},
}

var windowsBuilds = []string{"10.0.19045", "10.0.22621", "10.0.22631"}

// ForSession derives the device of one session. Same seed, session and
// country always give the same device.
func ForSession(seed, sessionID, country string) Device {
	if seed == "" {
		seed = "default-seed"
	}
	country = strings.ToUpper(country)
	loc, ok := locales[country]
	if !ok {
		country = "BR"
		loc = locales[country]
	}

	sum := sha256.Sum256([]byte(seed + "/" + sessionID))
	hashHex := hex.EncodeToString(sum[:])

	computer := "DESKTOP-" + strings.ToUpper(hashHex[16:23])
	build := windowsBuilds[int(sum[0])%len(windowsBuilds)]

	return Device{
		DeviceID:     hashHex[:16],
		ComputerName: computer,
		OS:           fmt.Sprintf("Windows %s (%s)", build, computer),
		Timezone:     loc.Timezone,
		Language:     loc.Language,
		Country:      country,
	}
}
