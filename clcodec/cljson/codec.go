// Package cljson provides a JSON-backed [clcodec.BlockCodec].
package cljson

import (
	"encoding/json"
	"fmt"

	"github.com/stakewithus/CasperLabs/clblock"
)

// Codec is a [github.com/stakewithus/CasperLabs/clcodec.BlockCodec]
// that marshals values through encoding/json.
// Hashes and bodies render as base64 strings per encoding/json defaults.
type Codec struct{}

type jsonSummary struct {
	BlockHash           []byte   `json:"block_hash"`
	ParentHashes        [][]byte `json:"parent_hashes,omitempty"`
	JustificationHashes [][]byte `json:"justification_hashes,omitempty"`
}

type jsonBlock struct {
	Summary jsonSummary `json:"summary"`
	Body    []byte      `json:"body"`
}

func toJSONSummary(s clblock.Summary) jsonSummary {
	js := jsonSummary{BlockHash: s.BlockHash}
	for _, p := range s.ParentHashes {
		js.ParentHashes = append(js.ParentHashes, p)
	}
	for _, j := range s.JustificationHashes {
		js.JustificationHashes = append(js.JustificationHashes, j)
	}
	return js
}

func fromJSONSummary(js jsonSummary) clblock.Summary {
	s := clblock.Summary{BlockHash: clblock.Hash(js.BlockHash)}
	for _, p := range js.ParentHashes {
		s.ParentHashes = append(s.ParentHashes, clblock.Hash(p))
	}
	for _, j := range js.JustificationHashes {
		s.JustificationHashes = append(s.JustificationHashes, clblock.Hash(j))
	}
	return s
}

func (Codec) MarshalBlock(b clblock.Block) ([]byte, error) {
	out, err := json.Marshal(jsonBlock{
		Summary: toJSONSummary(b.Summary),
		Body:    b.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling block %v: %w", b.Summary.BlockHash, err)
	}
	return out, nil
}

func (Codec) UnmarshalBlock(data []byte) (clblock.Block, error) {
	var jb jsonBlock
	if err := json.Unmarshal(data, &jb); err != nil {
		return clblock.Block{}, fmt.Errorf("unmarshaling block: %w", err)
	}
	return clblock.Block{
		Summary: fromJSONSummary(jb.Summary),
		Body:    jb.Body,
	}, nil
}

func (Codec) MarshalSummary(s clblock.Summary) ([]byte, error) {
	out, err := json.Marshal(toJSONSummary(s))
	if err != nil {
		return nil, fmt.Errorf("marshaling summary %v: %w", s.BlockHash, err)
	}
	return out, nil
}

func (Codec) UnmarshalSummary(data []byte) (clblock.Summary, error) {
	var js jsonSummary
	if err := json.Unmarshal(data, &js); err != nil {
		return clblock.Summary{}, fmt.Errorf("unmarshaling summary: %w", err)
	}
	return fromJSONSummary(js), nil
}
