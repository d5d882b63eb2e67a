package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/ralt/provsign/internal/engine"
	"github.com/ralt/provsign/internal/utils"
	"github.com/sirupsen/logrus"
)

// archiveMagic starts every archive, followed by a length-prefixed codec
// name and the compressed working store.
var archiveMagic = []byte("PSAR")

const archiveVersion = 1

// WorkingStore is the unsigned builder state an archive carries
type WorkingStore struct {
	Version    int               `json:"version"`
	Definition json.RawMessage   `json:"definition"`
	Intent     string            `json:"intent,omitempty"`
	SourceType string            `json:"source_type,omitempty"`
	NoEmbed    bool              `json:"no_embed,omitempty"`
	RemoteURL  string            `json:"remote_url,omitempty"`
	Actions    []json.RawMessage `json:"actions,omitempty"`
}

// ToArchive exports the builder's working store. A credential is accepted
// for interface parity and ignored; archives are never signed here.
func (e *Engine) ToArchive(ctx context.Context, h engine.Handle, cred *engine.Credential) ([]byte, error) {
	st, err := e.snapshot(h)
	if err != nil {
		return nil, err
	}

	ws, err := json.Marshal(WorkingStore{
		Version:    archiveVersion,
		Definition: st.rawDef,
		Intent:     st.intent,
		SourceType: st.sourceType,
		NoEmbed:    st.noEmbed,
		RemoteURL:  st.remoteURL,
		Actions:    st.actions,
	})
	if err != nil {
		return nil, err
	}

	payload, err := utils.Compress(e.compression, ws)
	if err != nil {
		return nil, fmt.Errorf("failed to compress archive: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(archiveMagic)
	buf.WriteByte(byte(len(e.compression)))
	buf.WriteString(string(e.compression))
	buf.Write(payload)

	e.log.WithFields(logrus.Fields{
		"handle":      h,
		"compression": e.compression,
		"size":        buf.Len(),
	}).Debug("Builder archived")
	return buf.Bytes(), nil
}

// ReadArchive decodes an archive produced by ToArchive
func ReadArchive(archive []byte) (*WorkingStore, error) {
	if len(archive) < len(archiveMagic)+1 || !bytes.Equal(archive[:len(archiveMagic)], archiveMagic) {
		return nil, invalid("not a manifest archive")
	}
	rest := archive[len(archiveMagic):]
	n := int(rest[0])
	if len(rest) < 1+n {
		return nil, invalid("truncated archive header")
	}
	codec, err := utils.ParseCompression(string(rest[1 : 1+n]))
	if err != nil {
		return nil, invalid("%v", err)
	}
	data, err := utils.Decompress(codec, rest[1+n:])
	if err != nil {
		return nil, invalid("archive payload: %v", err)
	}

	var ws WorkingStore
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, invalid("archive payload: %v", err)
	}
	if ws.Version != archiveVersion {
		return nil, invalid("unsupported archive version %d", ws.Version)
	}
	return &ws, nil
}

// FromArchive allocates a builder holding the archived working store
func (e *Engine) FromArchive(ctx context.Context, archive []byte) (engine.Handle, error) {
	ws, err := ReadArchive(archive)
	if err != nil {
		return "", err
	}
	st, err := newState(string(ws.Definition))
	if err != nil {
		return "", err
	}
	st.intent = ws.Intent
	st.sourceType = ws.SourceType
	st.noEmbed = ws.NoEmbed
	st.remoteURL = ws.RemoteURL
	st.actions = ws.Actions
	return e.register(st), nil
}
