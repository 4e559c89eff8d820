/*
 * Copyright 2021-2022 by Nedim Sabic Sabic
 * https://www.fibratus.io
 * All Rights Reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rabbitstack/calltrace/cmd/calltrace/common"
	"github.com/rabbitstack/calltrace/pkg/config"
	"github.com/rabbitstack/calltrace/pkg/datafile"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the run header and the metadata of the trace data",
	RunE:  info,
}

var infoConfig = config.NewWithOpts(config.WithInfo())

func init() {
	infoConfig.MustViperize(infoCmd)
}

func info(cmd *cobra.Command, args []string) error {
	if err := common.InitConfigAndLogger(infoConfig); err != nil {
		return err
	}
	h, err := datafile.Open(infoConfig)
	if err != nil {
		return err
	}
	defer h.Close()

	out := cmd.OutOrStdout()
	renderHeader(out, h)
	renderInfo(out, h.Info)
	return nil
}

func renderHeader(w io.Writer, h *datafile.Handle) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Data directory: %s", h.Dir)

	hdr := h.Header
	endian := "little"
	if hdr.Endian == datafile.ElfDataMSB {
		endian = "big"
	}
	class := "64-bit"
	if hdr.Class == datafile.ElfClass32 {
		class = "32-bit"
	}
	t.AppendRow(table.Row{"Version", hdr.Version})
	t.AppendRow(table.Row{"Byte order", endian})
	t.AppendRow(table.Row{"Class", class})
	t.AppendRow(table.Row{"Features", strings.Join(hdr.FeatureNames(), ", ")})
	t.AppendRow(table.Row{"Max stack", hdr.MaxStack})
	t.AppendRow(table.Row{"Byte swap", hdr.ByteSwap})
	t.AppendRow(table.Row{"Bitfield swap", hdr.BitSwap})

	t.AppendSeparator()

	files, size := dataFiles(h.Dir)
	t.AppendRow(table.Row{"Data files", humanize.Comma(int64(files))})
	t.AppendRow(table.Row{"Data size", humanize.Bytes(size)})
	if h.EventLog != "" {
		t.AppendRow(table.Row{"Event log", h.EventLog})
	}
	t.AppendRow(table.Row{"Sessions", h.Sessions.Size()})

	t.Render()
}

func renderInfo(w io.Writer, i *datafile.Info) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Info", "Value"})

	for b := datafile.ExeName; b <= datafile.PatternType; b++ {
		if !i.Has(b) {
			continue
		}
		switch b {
		case datafile.ExeName:
			t.AppendRow(table.Row{"Program", i.Exename})
		case datafile.ExeBuildID:
			t.AppendRow(table.Row{"Build ID", i.BuildID})
		case datafile.ExitStatus:
			t.AppendRow(table.Row{"Exit status", i.ExitStatus})
		case datafile.Cmdline:
			t.AppendRow(table.Row{"Command line", i.Cmdline})
		case datafile.CPUInfo:
			t.AppendRow(table.Row{"CPUs", fmt.Sprintf("%d / %d (online / possible)", i.CPU.Online, i.CPU.Possible)})
			t.AppendRow(table.Row{"CPU", i.CPU.Desc})
		case datafile.MemInfo:
			t.AppendRow(table.Row{"Memory", i.MemInfo})
		case datafile.OSInfo:
			t.AppendRow(table.Row{"Kernel", i.OS.Kernel})
			t.AppendRow(table.Row{"Hostname", i.OS.Hostname})
			t.AppendRow(table.Row{"Distro", i.OS.Distro})
		case datafile.TaskInfo:
			t.AppendRow(table.Row{"Tasks", i.Tasks.Count})
		case datafile.UsageInfo:
			keys := make([]string, 0, len(i.Usage))
			for k := range i.Usage {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				t.AppendRow(table.Row{"Usage " + k, i.Usage[k]})
			}
		case datafile.LoadInfo:
			t.AppendRow(table.Row{"Load average", i.LoadInfo})
		case datafile.ArgSpecInfo:
			t.AppendRow(table.Row{"Arguments", strings.Join(i.ArgSpec, "; ")})
		case datafile.RecordDate:
			t.AppendRow(table.Row{"Recorded on", i.RecordDate})
			t.AppendRow(table.Row{"Elapsed time", i.ElapsedTime})
		case datafile.PatternType:
			t.AppendRow(table.Row{"Pattern type", i.PatternType})
		}
	}

	t.Render()
}

// dataFiles counts the per-task record files and sums their sizes.
func dataFiles(dir string) (int, uint64) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.dat"))
	if err != nil {
		return 0, 0
	}
	var size uint64
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			continue
		}
		size += uint64(fi.Size())
	}
	return len(matches), size
}
