// Command picoforge configures Pico FIDO keys over the Rescue applet or
// CTAPHID.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/phoeagon/picoforge/pferr"
)

func main() {
	a := newApp()
	if err := a.command().Run(context.Background(), os.Args); err != nil {
		reportError(a.stderr, err, a.output == outputJSON)
		if pferr.IsNoDevice(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func reportError(w io.Writer, err error, asJSON bool) {
	if asJSON {
		var e *pferr.Error
		if errors.As(err, &e) {
			_ = json.NewEncoder(w).Encode(map[string]any{"error": e})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": err.Error()}})
		return
	}
	fmt.Fprintln(w, "picoforge:", err)
}
