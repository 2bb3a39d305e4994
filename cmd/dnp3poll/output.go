// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/riclolsen/go-dnp3/database"
	"github.com/riclolsen/go-dnp3/object"
)

// Output formats
const (
	outputText = "text"
	outputYAML = "yaml"
)

var pointClasses = []object.Class{
	object.ClassBinaryInput,
	object.ClassBinaryOutput,
	object.ClassCounter,
	object.ClassAnalogInput,
	object.ClassAnalogOutput,
}

// record is the printed form of a database record.
type record struct {
	Class     string    `yaml:"class"`
	Index     uint32    `yaml:"index"`
	Group     string    `yaml:"object"`
	Value     string    `yaml:"value"`
	Quality   string    `yaml:"quality"`
	Time      time.Time `yaml:"time"`
	Device    bool      `yaml:"device_time"`
	Unhealthy bool      `yaml:"unreliable,omitempty"`
}

func newRecord(p object.Point) record {
	return record{
		Class:     p.Class.String(),
		Index:     p.Index,
		Group:     fmt.Sprintf("g%dv%d", p.Group, p.Variation),
		Value:     p.Value.String(),
		Quality:   p.Quality.String(),
		Time:      p.Time().UTC(),
		Device:    p.DeviceTime,
		Unhealthy: p.Unreliable(),
	}
}

// drain empties every ring buffer of the database, oldest record first.
func drain(db *database.Database) []record {
	var out []record
	for _, c := range pointClasses {
		for _, idx := range db.Indexes(c) {
			for _, p := range db.Read(c, idx) {
				out = append(out, newRecord(p))
			}
		}
	}
	return out
}

func printRecords(w io.Writer, format string, recs []record) error {
	switch format {
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(recs); err != nil {
			return err
		}
		return enc.Close()
	case outputText, "":
		for _, r := range recs {
			flag := ""
			if r.Unhealthy {
				flag = " !"
			}
			fmt.Fprintf(w, "%s %-12s %5d %-7s %-16s %s%s\n",
				r.Time.Format("2006-01-02T15:04:05.000Z"), r.Class, r.Index, r.Group, r.Value, r.Quality, flag)
		}
		return nil
	}
	return fmt.Errorf("unknown output format %q", format)
}
