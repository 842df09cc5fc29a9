// Package metadata derives aggregate metadata documents from the
// components and assets stored at each artifact coordinate.
package metadata

import (
	"encoding/xml"
	"fmt"
	"time"
)

// lastUpdatedFormat is the UTC timestamp layout written into documents.
const lastUpdatedFormat = "20060102150405"

// Document is the XML metadata document published next to artifacts.
// Artifact-level documents carry Versioning; namespace-level documents
// carry Plugins.
type Document struct {
	XMLName xml.Name `xml:"metadata"`

	Namespace string `xml:"groupId,omitempty"`
	Name      string `xml:"artifactId,omitempty"`
	Version   string `xml:"version,omitempty"`

	Versioning *Versioning `xml:"versioning,omitempty"`
	Plugins    []Plugin    `xml:"plugins>plugin,omitempty"`
}

// Versioning summarizes the versions available at a coordinate.
type Versioning struct {
	Latest      string   `xml:"latest,omitempty"`
	Release     string   `xml:"release,omitempty"`
	Versions    []string `xml:"versions>version,omitempty"`
	LastUpdated string   `xml:"lastUpdated,omitempty"`
}

// Plugin is one namespace-level plugin entry.
type Plugin struct {
	Prefix string `xml:"prefix"`
	Name   string `xml:"artifactId"`
	Title  string `xml:"name,omitempty"`
}

// Marshal renders the document with the standard XML header.
func (d *Document) Marshal() ([]byte, error) {
	body, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("metadata: marshal document: %w", err)
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}

func timestamp(t time.Time) string {
	return t.UTC().Format(lastUpdatedFormat)
}
