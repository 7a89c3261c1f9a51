// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
)

// wantJSON resolves the --output flag. "auto" prints JSON unless the
// destination is a terminal.
func (o *cliOptions) wantJSON() (bool, error) {
	switch o.output {
	case "json":
		return true, nil
	case "text":
		return false, nil
	case "auto", "":
		f, ok := o.out.(*os.File)
		if !ok {
			return true, nil
		}
		return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()), nil
	default:
		return false, fmt.Errorf("unknown output format %q (want auto, json or text)", o.output)
	}
}

// render writes v as indented JSON or through text.
func (o *cliOptions) render(v any, text func(w *tabwriter.Writer)) error {
	asJSON, err := o.wantJSON()
	if err != nil {
		return err
	}
	if asJSON {
		encoder := json.NewEncoder(o.out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	}
	tw := tabwriter.NewWriter(o.out, 0, 4, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}

func row(w io.Writer, cols ...any) {
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, c)
	}
	fmt.Fprintln(w)
}
