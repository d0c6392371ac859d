package discovery

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	bin "github.com/gagliardetto/binary"
	sgo "github.com/gagliardetto/solana-go"
)

const programDataPrefix = "Program data: "

// createEventDiscriminator is the Anchor event discriminator of the
// launch program's CreateEvent.
var createEventDiscriminator = anchorEventDiscriminator("CreateEvent")

func anchorEventDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("event:" + name))
	return sum[:8]
}

// CreateEvent is the event the launch program emits when a token is created.
type CreateEvent struct {
	Name         string
	Symbol       string
	URI          string
	Mint         sgo.PublicKey
	BondingCurve sgo.PublicKey
	User         sgo.PublicKey
}

// DecodeCreateEvent finds and decodes the first CreateEvent in logs.
func DecodeCreateEvent(logs []string) (*CreateEvent, bool) {
	for _, line := range logs {
		idx := strings.Index(line, programDataPrefix)
		if idx < 0 {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line[idx+len(programDataPrefix):]))
		if err != nil || len(data) <= 8 || !bytes.Equal(data[:8], createEventDiscriminator) {
			continue
		}
		var ev CreateEvent
		if err := bin.NewBorshDecoder(data[8:]).Decode(&ev); err != nil {
			continue
		}
		ev.Name = strings.TrimRight(ev.Name, "\x00")
		ev.Symbol = strings.TrimRight(ev.Symbol, "\x00")
		ev.URI = strings.TrimRight(ev.URI, "\x00")
		return &ev, true
	}
	return nil, false
}

// EncodeCreateEvent renders ev as a "Program data:" log line.
func EncodeCreateEvent(ev CreateEvent) (string, error) {
	var buf bytes.Buffer
	buf.Write(createEventDiscriminator)
	if err := bin.NewBorshEncoder(&buf).Encode(ev); err != nil {
		return "", err
	}
	return programDataPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
