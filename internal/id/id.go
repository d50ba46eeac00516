// Package id generates prefixed identifiers for blocks, alignment runs and event clients.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes used across the server.
const (
	PrefixBlock  = "blk"
	PrefixImage  = "img"
	PrefixTable  = "tbl"
	PrefixEq     = "eq"
	PrefixSem    = "sem"
	PrefixRun    = "run"
	PrefixClient = "cli"
)

// blockAlphabet avoids '-' and '_' so ids survive as XHTML fragment anchors.
const blockAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Generate creates a prefixed unique ID: prefix-nanoid (e.g. "run-V1StGXR8_Z5jdHi6B-myT").
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// Anchor creates a short prefixed id restricted to alphanumerics, suitable for
// block ids that end up as document anchors.
func Anchor(prefix string) (string, error) {
	id, err := gonanoid.Generate(blockAlphabet, 12)
	if err != nil {
		return "", fmt.Errorf("generate anchor id: %w", err)
	}
	return prefix + id, nil
}

// MustGenerate is like Generate but panics if ID generation fails.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return id
}

// MustAnchor is like Anchor but panics if ID generation fails.
func MustAnchor(prefix string) string {
	id, err := Anchor(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate anchor: %v", err))
	}
	return id
}
