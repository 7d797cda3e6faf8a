package whatsapp

import (
	"crypto/sha256"
	"encoding/binary"

	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/store"
)

var (
	fingerprintOS       = []string{"Windows", "Mac OS", "Linux", "Ubuntu"}
	fingerprintBrowsers = []waCompanionReg.DeviceProps_PlatformType{
		waCompanionReg.DeviceProps_CHROME,
		waCompanionReg.DeviceProps_FIREFOX,
		waCompanionReg.DeviceProps_SAFARI,
		waCompanionReg.DeviceProps_EDGE,
		waCompanionReg.DeviceProps_OPERA,
	}
)

// Fingerprint is the linked-device identity a bot presents to WhatsApp.
type Fingerprint struct {
	OS      string
	Browser waCompanionReg.DeviceProps_PlatformType
	Version [3]uint32
}

// FingerprintFor derives a stable fingerprint from the bot id so that each
// bot shows up as a distinct but unchanging device.
func FingerprintFor(botID string) Fingerprint {
	sum := sha256.Sum256([]byte(botID))
	return Fingerprint{
		OS:      fingerprintOS[int(sum[0])%len(fingerprintOS)],
		Browser: fingerprintBrowsers[int(sum[1])%len(fingerprintBrowsers)],
		Version: [3]uint32{
			100 + binary.BigEndian.Uint32(sum[2:6])%40,
			0,
			binary.BigEndian.Uint32(sum[6:10]) % 6000,
		},
	}
}

// Apply writes the fingerprint into whatsmeow's global device properties.
// Callers hold connectMu until the handshake has used it.
func (f Fingerprint) Apply() {
	store.SetOSInfo(f.OS, f.Version)
	store.DeviceProps.PlatformType = f.Browser.Enum()
}
