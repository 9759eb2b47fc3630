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
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gdamore/runnable"
)

type fixture struct {
	c      *runnable.Container
	srv    *httptest.Server
	client *Client
	done   chan struct{}
	reload map[string]string
}

func newFixture(t *testing.T, hopts ...HandlerOption) *fixture {
	t.Helper()
	f := &fixture{done: make(chan struct{})}
	reg := runnable.NewRegistry(runnable.NewService("web", nil))
	form, e := runnable.ParseFormation("web=2")
	require.NoError(t, e)

	metrics := prometheus.NewRegistry()
	f.c = runnable.NewContainer(reg, form,
		runnable.WithName("resttest"),
		runnable.WithThreads(),
		runnable.WithMetrics(metrics),
		runnable.WithLogger(log.New(io.Discard, "", 0)),
		runnable.WithOnRestart(func(p map[string]string) { f.reload = p }))
	require.NoError(t, f.c.Run(context.Background()))
	go func() {
		defer close(f.done)
		f.c.Wait(context.Background())
	}()

	hopts = append(hopts, WithGatherer(metrics))
	f.srv = httptest.NewServer(NewHandler(f.c, hopts...))
	f.client = NewClient(nil, f.srv.URL)
	t.Cleanup(func() {
		f.c.Terminate()
		f.wait(t)
		f.srv.Close()
	})
	return f
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(5 * time.Second):
		t.Fatal("container did not stop")
	}
}

func TestInfo(t *testing.T) {
	f := newFixture(t)
	info, e := f.client.Info()
	require.NoError(t, e)
	assert.Equal(t, "resttest", info.Name)
	assert.Equal(t, "running", info.Phase)
	assert.Equal(t, 2, info.Live)
	assert.True(t, info.Success)
}

func TestInstances(t *testing.T) {
	f := newFixture(t)
	list, e := f.client.Instances()
	require.NoError(t, e)
	require.Len(t, list.Instances, 2)
	assert.NotEmpty(t, list.Etag())

	for _, i := range list.Instances {
		assert.Equal(t, "web", i.Service)
		assert.True(t, i.Live)
		assert.Equal(t, "thread", i.Strategy)

		got, e := f.client.GetInstance(i.ID)
		require.NoError(t, e)
		assert.Equal(t, i.ID, got.ID)
	}

	_, e = f.client.GetInstance("nosuch")
	var re *Error
	require.ErrorAs(t, e, &re)
	assert.Equal(t, http.StatusNotFound, re.Code)
}

func TestRestartInstance(t *testing.T) {
	f := newFixture(t)
	list, e := f.client.Instances()
	require.NoError(t, e)
	id := list.Instances[0].ID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.client.RestartInstance(id))

	// The restart is visible as a change of the instance table.
	for {
		next, e := f.client.WatchInstances(ctx, list)
		require.NoError(t, e)
		list = next
		for _, i := range list.Instances {
			if i.ID == id && i.Retries == 2 {
				return
			}
		}
	}
}

func TestRestartUnknownInstance(t *testing.T) {
	f := newFixture(t)
	e := f.client.RestartInstance("nosuch")
	var re *Error
	require.ErrorAs(t, e, &re)
	assert.Equal(t, http.StatusNotFound, re.Code)
}

func TestLongPoll(t *testing.T) {
	f := newFixture(t)
	etag, e := f.client.Watch(context.Background(), "")
	require.NoError(t, e)
	require.NotEmpty(t, etag)

	// Nothing changes, so the poll runs to its deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	_, e = f.client.Watch(ctx, etag)
	cancel()
	assert.Error(t, e)

	list, e := f.client.Instances()
	require.NoError(t, e)
	go func() {
		time.Sleep(50 * time.Millisecond)
		f.client.RestartInstance(list.Instances[0].ID)
	}()
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ntag, e := f.client.Watch(ctx, etag)
	require.NoError(t, e)
	assert.NotEqual(t, etag, ntag)
}

func TestLog(t *testing.T) {
	f := newFixture(t)
	l, e := f.client.GetLog()
	require.NoError(t, e)
	require.NotEmpty(t, l.Records)
	assert.Contains(t, l.Records[0].Text, "*** starting: web=2 ***")

	go func() {
		time.Sleep(50 * time.Millisecond)
		f.client.Interrupt()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	next, e := f.client.WatchLog(ctx, l)
	require.NoError(t, e)
	assert.NotEqual(t, l.Etag(), next.Etag())
}

func TestInterrupt(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.Interrupt())
	f.wait(t)
	assert.True(t, f.c.Success())
	assert.False(t, f.c.Reloaded())
}

func TestTerminate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.Terminate())
	f.wait(t)
	assert.True(t, f.c.Stopping())
}

func TestReload(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.Restart(map[string]string{"reason": "test"}))
	f.wait(t)
	assert.True(t, f.c.Reloaded())
	assert.Equal(t, "test", f.reload["reason"])
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	res, e := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, e)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	b, e := io.ReadAll(res.Body)
	require.NoError(t, e)
	assert.True(t, strings.Contains(string(b), "runnable_launches_total"))
}

func TestAuth(t *testing.T) {
	hash, e := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, e)
	f := newFixture(t, WithAuth("admin", hash))

	_, e = f.client.Info()
	var re *Error
	require.ErrorAs(t, e, &re)
	assert.Equal(t, http.StatusUnauthorized, re.Code)

	f.client.SetAuth("admin", "wrong")
	_, e = f.client.Info()
	require.ErrorAs(t, e, &re)

	f.client.SetAuth("admin", "secret")
	info, e := f.client.Info()
	require.NoError(t, e)
	assert.Equal(t, 2, info.Live)
}

func TestEtag(t *testing.T) {
	n, e := parseEtag(formatEtag(12345))
	require.NoError(t, e)
	assert.Equal(t, int64(12345), n)
	n, e = parseEtag(`W/"7"`)
	require.NoError(t, e)
	assert.Equal(t, int64(7), n)
	_, e = parseEtag("bogus")
	assert.Error(t, e)
}
