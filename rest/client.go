// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// LogInfo is a copy of the container log, tagged for long polling.
type LogInfo struct {
	etag    string
	Records []LogRecord
}

// Etag returns the tag the records were served with.
func (l *LogInfo) Etag() string {
	return l.etag
}

// InstanceList is a copy of the instance table, tagged for long polling.
type InstanceList struct {
	etag      string
	Instances []*InstanceInfo
}

// Etag returns the tag the list was served with.
func (l *InstanceList) Etag() string {
	return l.etag
}

type Client struct {
	user   string // HTTP Basic-Auth
	pass   string
	base   string // URI to root of tree on server
	auth   bool
	client *http.Client

	// Cached data
	info      *ContainerInfo
	infoEtag  string
	instances *InstanceList
	log       *LogInfo
	lock      sync.Mutex
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) url(elems ...string) string {
	u := c.base
	for _, e := range elems {
		u += "/" + url.PathEscape(e)
	}
	if u == c.base {
		u += "/"
	}
	return u
}

// Watch waits for the container to change from etag, and returns the new
// tag.  An empty etag returns the current tag at once.
func (c *Client) Watch(ctx context.Context, etag string) (string, error) {
	c.lock.Lock()
	if c.info != nil && etag == "" {
		etag = c.infoEtag
		c.lock.Unlock()
		return etag, nil
	}
	c.lock.Unlock()

	info := &ContainerInfo{}
	ntag, e := c.poll(ctx, c.url(), etag, 300, info)
	if e != nil {
		return "", e
	}
	if ntag == "" {
		return etag, nil
	}
	c.lock.Lock()
	c.info = info
	c.infoEtag = ntag
	c.lock.Unlock()
	return ntag, nil
}

// Info returns the container summary.
func (c *Client) Info() (*ContainerInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	info := &ContainerInfo{}
	etag, e := c.poll(ctx, c.url(), "", 0, info)
	if e != nil {
		return nil, e
	}
	c.lock.Lock()
	c.info = info
	c.infoEtag = etag
	c.lock.Unlock()
	return info, nil
}

func (c *Client) pollInstances(ctx context.Context, secs int, last *InstanceList) (*InstanceList, error) {
	c.lock.Lock()
	cached := c.instances
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if cached != nil && last.etag != cached.etag {
		// Someone else already saw a newer list.
		return cached, nil
	} else {
		otag = last.etag
	}

	v := &InstanceList{}
	etag, e := c.poll(ctx, c.url("instances"), otag, secs, &v.Instances)
	if e != nil {
		return nil, e
	}
	if etag == "" {
		return last, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.instances = v
	c.lock.Unlock()
	return v, nil
}

// Instances returns every live or pending instance.
func (c *Client) Instances() (*InstanceList, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.pollInstances(ctx, 0, nil)
}

// WatchInstances waits for the instance table to differ from last.
func (c *Client) WatchInstances(ctx context.Context, last *InstanceList) (*InstanceList, error) {
	return c.pollInstances(ctx, 300, last)
}

// GetInstance returns one instance, by full ID.
func (c *Client) GetInstance(id string) (*InstanceInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v := &InstanceInfo{}
	if _, e := c.poll(ctx, c.url("instances", id), "", 0, v); e != nil {
		return nil, e
	}
	return v, nil
}

// poll issues an HTTP GET against the URL, optionally checking for a cache,
// including optionally issuing a long poll that tries to wait until the
// value changes.  The return values are the new Etag and any error.  If the
// value did not change, then the returned etag will be "", but the error will
// be nil.
func (c *Client) poll(ctx context.Context, url string, etag string, wait int, v interface{}) (string, error) {

	req, e := http.NewRequestWithContext(ctx, "GET", url, nil)
	if e != nil {
		return "", e
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}

	res, e := c.client.Do(req)
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if res.StatusCode != http.StatusOK {
		return "", readError(res)
	}
	body, e := io.ReadAll(res.Body)
	if e != nil {
		return "", e
	}
	if e := json.Unmarshal(body, v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

func readError(res *http.Response) error {
	e := &Error{}
	body, _ := io.ReadAll(res.Body)
	if json.Unmarshal(body, e) != nil || e.Message == "" {
		e.Message = res.Status
	}
	e.Code = res.StatusCode
	return e
}

func (c *Client) post(url string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, e := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if e != nil {
		return e
	}
	if body == nil {
		req.Header.Set("Content-Type", "text/plain") // we don't really care
	} else {
		req.Header.Set("Content-Type", mimeJson)
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return readError(res)
	}
	return nil
}

// RestartInstance relaunches one instance.
func (c *Client) RestartInstance(id string) error {
	return c.post(c.url("instances", id, "restart"), nil)
}

// Interrupt stops the container gracefully.
func (c *Client) Interrupt() error {
	return c.post(c.url("interrupt"), nil)
}

// Terminate stops the container without stop hooks.
func (c *Client) Terminate() error {
	return c.post(c.url("terminate"), nil)
}

// Restart reloads the container, passing payload to its restart hooks.
func (c *Client) Restart(payload map[string]string) error {
	if payload == nil {
		payload = map[string]string{}
	}
	b, e := json.Marshal(payload)
	if e != nil {
		return e
	}
	return c.post(c.url("restart"), b)
}

func (c *Client) pollLog(ctx context.Context, secs int, last *LogInfo) (*LogInfo, error) {

	c.lock.Lock()
	cached := c.log
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if cached != nil && last.etag != cached.etag {
		return cached, nil
	} else {
		otag = last.etag
	}

	v := &LogInfo{}
	etag, e := c.poll(ctx, c.url("log"), otag, secs, &v.Records)
	if e != nil {
		return nil, e
	}
	if etag == "" {
		return last, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.log = v
	c.lock.Unlock()

	return v, nil
}

// WatchLog waits for the log to differ from last.
func (c *Client) WatchLog(ctx context.Context, last *LogInfo) (*LogInfo, error) {

	// Let the poll wait for up to 300 secs (5 minutes).
	return c.pollLog(ctx, 300, last)
}

// GetLog returns the log, without waiting for changes.
func (c *Client) GetLog() (*LogInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.pollLog(ctx, 0, nil)
}

// NewClient returns a Client handle.  The transport maybe nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t *http.Transport, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	for len(baseURI) > 0 && baseURI[len(baseURI)-1] == '/' {
		baseURI = baseURI[:len(baseURI)-1]
	}
	return &Client{
		base:   baseURI,
		client: &http.Client{Transport: t},
	}
}
