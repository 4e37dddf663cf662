// Package models defines the domain types shared by the unitlens transports.
package models

import "time"

// DocumentMetadata is a lightweight representation of a stored document file.
type DocumentMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentInfo describes a live document held by the workspace.
type DocumentInfo struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	OpenedAt  time.Time `json:"opened_at"`
	Converted int       `json:"converted"`
	Failed    int       `json:"failed"`
}

// Conversion is one performed tag conversion.
type Conversion struct {
	DocumentID string    `json:"document_id"`
	Direction  string    `json:"direction"`
	Label      string    `json:"label"`
	Input      string    `json:"input"`
	Output     string    `json:"output"`
	CreatedAt  time.Time `json:"created_at"`
}

// Unit describes one registry entry.
type Unit struct {
	Label             string `json:"label"`
	Kind              string `json:"kind"`
	Direction         string `json:"direction"`
	BaseSymbol        string `json:"base_symbol"`
	ConvertedSymbol   string `json:"converted_symbol"`
	BaseFullName      string `json:"base_full_name"`
	ConvertedFullName string `json:"converted_full_name"`
}
