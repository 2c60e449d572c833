// Package pairing owns the host identity keypair and admits devices into the
// trusted registry.
//
// Trust is established purely by possession of the fingerprint/QR payload the
// host displays — there is no proof-of-possession challenge on the device
// key. Known limitation, kept for wire compatibility with existing clients.
package pairing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/tvachon/lanvault/internal/device"
)

const hostKeyBits = 2048

// Authority holds the process-lifetime host keypair. The key is regenerated
// on every start, so the fingerprint is stable only within one process run.
type Authority struct {
	key      *rsa.PrivateKey
	registry *device.Registry
}

// Payload is what the pairing screen renders (as a QR code) for a device to
// scan.
type Payload struct {
	HostName     string `json:"host_name"`
	LanIP        string `json:"lan_ip"`
	ControlPort  int    `json:"control_port"`
	TransferPort int    `json:"transfer_port"`
	PublicKeyPEM string `json:"public_key_pem"`
}

func NewAuthority(registry *device.Registry) (*Authority, error) {
	key, err := rsa.GenerateKey(rand.Reader, hostKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	return &Authority{key: key, registry: registry}, nil
}

// Fingerprint returns the host key digest as 16 colon-separated uppercase
// hex byte pairs. Deterministic for the lifetime of the process.
func (a *Authority) Fingerprint() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&a.key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	encoded := hex.EncodeToString(sum[:16])

	pairs := make([]string, 0, 16)
	for i := 0; i < len(encoded); i += 2 {
		pairs = append(pairs, encoded[i:i+2])
	}
	return strings.ToUpper(strings.Join(pairs, ":")), nil
}

// PublicKeyPEM returns the host public key as a PEM-encoded
// SubjectPublicKeyInfo block.
func (a *Authority) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&a.key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return string(block), nil
}

// DisplayPayload assembles the QR payload for the given listen ports.
func (a *Authority) DisplayPayload(controlPort, transferPort int) (Payload, error) {
	pemKey, err := a.PublicKeyPEM()
	if err != nil {
		return Payload{}, err
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return Payload{
		HostName:     host,
		LanIP:        lanIP(),
		ControlPort:  controlPort,
		TransferPort: transferPort,
		PublicKeyPEM: pemKey,
	}, nil
}

// CompletePairing records the device in the registry. Idempotent: pairing an
// already-known device id overwrites its record.
func (a *Authority) CompletePairing(id, name, publicKeyPEM string) error {
	if id == "" {
		return fmt.Errorf("device id is required")
	}
	a.registry.Add(device.Identity{ID: id, Name: name, PublicKey: publicKeyPEM})
	return nil
}

// lanIP returns the machine's LAN address. Opening an unconnected UDP socket
// avoids answering 127.0.0.1 on multi-homed hosts; nothing is sent.
func lanIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
