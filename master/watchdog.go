// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package master

import (
	"fmt"
	"time"
)

// Workers reports the liveness of every worker loop by name.
func (sf *Session) Workers() map[string]bool {
	if sf.link == nil {
		return nil
	}
	lr, ls := sf.link.Running()
	ar, as := sf.app.Running()
	return map[string]bool{
		"link recv": lr,
		"link send": ls,
		"transport": sf.transport.Running(),
		"app recv":  ar,
		"app send":  as,
	}
}

var workerOrder = []string{"link recv", "link send", "transport", "app recv", "app send"}

// watchdog reports, once per worker, a loop that died while the session
// is running.
func (sf *Session) watchdog() {
	defer sf.wg.Done()
	t := time.NewTicker(sf.watchdogInterval)
	defer t.Stop()

	reported := make(map[string]bool)
	for {
		select {
		case <-sf.ctx.Done():
			return
		case <-t.C:
		}
		if !sf.IsRunning() {
			continue
		}
		workers := sf.Workers()
		for _, name := range workerOrder {
			if workers[name] || reported[name] {
				continue
			}
			reported[name] = true
			sf.Error("watchdog: %s loop is not running", name)
			sf.report(fmt.Errorf("%w: %s", ErrWorkerStopped, name))
		}
	}
}
