// Copyright 2026 OneAgent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tools is the catalog behind tools/list, tools/call and the
// resource and prompt surfaces. Descriptors live in the backbone cache;
// handlers are process-local. Both transports invoke through the same
// registry, so a tool behaves identically over HTTP and stdio.
package tools

import (
	"context"
	"encoding/json"
)

// Descriptor describes one tool as advertised by tools/list.
type Descriptor struct {
	Name        string          `json:"name"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
	// OutputSchema is optional; when present, structured results should
	// conform to it.
	OutputSchema json.RawMessage        `json:"outputSchema,omitempty"`
	Annotations  map[string]interface{} `json:"annotations,omitempty"`
	// Tags drive List filtering and capability discovery. They are not
	// part of the wire descriptor.
	Tags []string `json:"tags,omitempty"`
}

// Content is one result content block. Type selects which fields apply:
// "text" uses Text, "image" and "audio" use Data and MimeType,
// "resource_link" uses URI.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// TextContent builds a text content block.
func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// Result is what a tool handler returns for tools/call.
type Result struct {
	Content           []Content              `json:"content"`
	StructuredContent map[string]interface{} `json:"structuredContent,omitempty"`
	IsError           bool                   `json:"isError,omitempty"`
}

// TextResult wraps a plain string as a successful result.
func TextResult(text string) *Result {
	return &Result{Content: []Content{TextContent(text)}}
}

// ErrorResult wraps a message as a tool-level error. Tool-level errors
// ride inside a successful JSON-RPC response so the model can see them.
func ErrorResult(text string) *Result {
	return &Result{Content: []Content{TextContent(text)}, IsError: true}
}

// Handler executes one tool call. Arguments arrive already validated
// against the descriptor's input schema.
type Handler func(ctx context.Context, args json.RawMessage) (*Result, error)

// ResourceDescriptor describes one resource as advertised by
// resources/list.
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContents is the payload of resources/read.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ResourceReader produces the contents of one resource.
type ResourceReader func(ctx context.Context) (*ResourceContents, error)

// PromptArgument describes one argument a prompt accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptDescriptor describes one prompt as advertised by prompts/list.
type PromptDescriptor struct {
	Name        string           `json:"name"`
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptMessage is one message of a rendered prompt.
type PromptMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// PromptResult is the payload of prompts/get.
type PromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// PromptGetter renders one prompt with the given arguments.
type PromptGetter func(ctx context.Context, args map[string]string) (*PromptResult, error)

// Filter narrows List results. Zero value matches everything.
type Filter struct {
	// NamePrefix keeps tools whose name starts with the prefix.
	NamePrefix string
	// Tags keeps tools carrying every listed tag.
	Tags []string
}

func (f *Filter) matches(d *Descriptor) bool {
	if f == nil {
		return true
	}
	if f.NamePrefix != "" && !hasPrefix(d.Name, f.NamePrefix) {
		return false
	}
	for _, want := range f.Tags {
		found := false
		for _, tag := range d.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
