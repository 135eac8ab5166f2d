/*
SPDX-FileCopyrightText: Copyright 2024 SAP SE or an SAP affiliate company and cobaltcore-dev contributors
SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPGateway talks to serveradmin's dataset API over JSON-over-HTTPS. No
// external HTTP client framework appears anywhere in the example pack for
// this kind of bespoke internal REST protocol, so this implementation is
// built directly on net/http.
type HTTPGateway struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTPGateway returns a gateway pointed at baseURL (e.g.
// "https://serveradmin.example.net/api"), authenticating with token.
func NewHTTPGateway(baseURL, token string) *HTTPGateway {
	return &HTTPGateway{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body, out any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp, ErrNotFound
	}
	if resp.StatusCode == http.StatusConflict {
		return resp, ErrCommitConflict
	}
	if resp.StatusCode >= 300 {
		return resp, fmt.Errorf("%s %s: unexpected status %s", method, path, resp.Status)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp, nil
}

func (g *HTTPGateway) Query(ctx context.Context, kind string, filters Filters) ([]*Record, error) {
	var raw []map[string]any
	q := url.Values{}
	for k, v := range filters {
		q.Set(k, fmt.Sprintf("%v", v))
	}
	path := fmt.Sprintf("/%s?%s", kind, q.Encode())
	if _, err := g.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(raw))
	for _, attrs := range raw {
		out = append(out, NewRecord(attrs))
	}
	return out, nil
}

func (g *HTTPGateway) Get(ctx context.Context, kind, hostname string) (*Record, error) {
	records, err := g.Query(ctx, kind, Filters{"hostname": hostname})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	if len(records) > 1 {
		return nil, ErrMultipleFound
	}
	return records[0], nil
}

func (g *HTTPGateway) Commit(ctx context.Context, kind string, r *Record) error {
	dirty := r.Dirty()
	if len(dirty) == 0 {
		return nil
	}
	hostname := r.GetString("hostname")
	path := fmt.Sprintf("/%s/%s", kind, hostname)
	if _, err := g.do(ctx, http.MethodPatch, path, dirty, nil); err != nil {
		return err
	}
	r.ClearDirty()
	return nil
}

func (g *HTTPGateway) Delete(ctx context.Context, kind, hostname string) error {
	path := fmt.Sprintf("/%s/%s", kind, hostname)
	_, err := g.do(ctx, http.MethodDelete, path, nil, nil)
	return err
}
