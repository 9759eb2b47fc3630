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

// Command runnable is a client for the runnabled control API.  It uses
// subcommands.
//
// The flags are
//
//	-a <address>	- select the server address, default is
//			  http://127.0.0.1:8321
//	-u <user[:pass]> - user name & password for basic auth; the
//			  password is prompted for when omitted
//
// Subcommands are
//
//	info                - show the container summary
//	instances           - list all instances
//	restart <id>        - restart the instance (a unique id prefix will do)
//	reload [k=v ...]    - reload the container, passing k=v to its hooks
//	interrupt           - stop the container gracefully
//	terminate           - stop the container at once
//	log                 - print the container log
//	ui                  - full screen interface (the default)
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh/terminal"

	"github.com/gdamore/runnable/rest"
	"github.com/gdamore/runnable/runnable/ui"
	"github.com/gdamore/runnable/runnable/util"
)

var addr string = "http://127.0.0.1:8321"
var auth string = ""

func usage() {
	log.Fatalf("Usage: %s [-a <address>] [-u <user[:pass]>] <subcommand>",
		os.Args[0])
}

func fail(e error) {
	if e != nil {
		log.Fatalf("Failed: %v", e)
	}
}

func credentials(auth string) (string, string) {
	a := strings.SplitN(auth, ":", 2)
	if len(a) == 2 {
		return a[0], a[1]
	}
	fmt.Fprintf(os.Stderr, "Password for %s: ", a[0])
	pass, e := terminal.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	fail(e)
	return a[0], string(pass)
}

func payload(args []string) map[string]string {
	p := map[string]string{}
	for _, arg := range args {
		kv := strings.SplitN(arg, "=", 2)
		if len(kv) != 2 {
			usage()
		}
		p[kv[0]] = kv[1]
	}
	return p
}

func showInstance(i *rest.InstanceInfo) {
	fmt.Printf("%-8s %-16s %-9s %9s %7d %s\n", util.ShortID(i.ID),
		i.Service, util.Status(i), util.FormatDuration(util.Uptime(i)),
		i.Retries, i.Reference)
}

func main() {
	flag.StringVar(&addr, "a", addr, "runnabled address")
	flag.StringVar(&auth, "u", auth, "user[:pass] authentication")
	flag.Parse()

	client := rest.NewClient(nil, addr)
	if auth != "" {
		client.SetAuth(credentials(auth))
	}

	args := flag.Args()
	if len(args) == 0 {
		args = []string{"ui"}
	}

	switch args[0] {
	case "info":
		if len(args) != 1 {
			usage()
		}
		s, e := client.Info()
		fail(e)
		fmt.Printf("Name:      %s\n", s.Name)
		fmt.Printf("Formation: %s\n", s.Formation)
		fmt.Printf("Phase:     %s\n", s.Phase)
		fmt.Printf("Stopping:  %v\n", s.Stopping)
		fmt.Printf("Success:   %v\n", s.Success)
		fmt.Printf("Live:      %d\n", s.Live)
		fmt.Printf("Backoff:   %d\n", s.Pending)
		fmt.Printf("Launches:  %d\n", s.Launches)
		fmt.Printf("Failures:  %d\n", s.Failures)
		fmt.Printf("Since:     %v\n", time.Since(s.CreateTime).Truncate(time.Second))
	case "instances":
		if len(args) != 1 {
			usage()
		}
		list, e := client.Instances()
		fail(e)
		items := append([]*rest.InstanceInfo{}, list.Instances...)
		util.SortInstances(items)
		for _, i := range items {
			showInstance(i)
		}
	case "restart":
		if len(args) != 2 {
			usage()
		}
		list, e := client.Instances()
		fail(e)
		i, e := util.FindInstance(list.Instances, args[1])
		fail(e)
		fail(client.RestartInstance(i.ID))
	case "reload":
		fail(client.Restart(payload(args[1:])))
	case "interrupt":
		if len(args) != 1 {
			usage()
		}
		fail(client.Interrupt())
	case "terminate":
		if len(args) != 1 {
			usage()
		}
		fail(client.Terminate())
	case "log":
		if len(args) != 1 {
			usage()
		}
		l, e := client.GetLog()
		fail(e)
		for _, r := range l.Records {
			fmt.Printf("%s %s\n", r.Time.Format(time.StampMilli), r.Text)
		}
	case "ui":
		doUI(client, addr)
	default:
		usage()
	}
}

func doUI(client *rest.Client, url string) {
	// The screen belongs to the interface, so diagnostics go to a file.
	logger := log.New(os.Stderr, "", log.LstdFlags)
	if f, e := os.CreateTemp("", "runnable-ui-*.log"); e == nil {
		defer f.Close()
		logger = log.New(f, "", log.LstdFlags)
	}
	app := ui.NewApp(client, url)
	app.SetLogger(logger)
	fail(app.Run())
}
