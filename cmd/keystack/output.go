package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"keystack/internal/domain"
)

func writeOutput(w io.Writer, path string, payload []byte) error {
	if path == "" {
		if _, err := w.Write(payload); err != nil {
			return err
		}
		_, err := fmt.Fprintln(w)
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeOutput(w, "", b)
}

// printError lists every violation of a configuration error on its own line.
func printError(w io.Writer, err error) {
	var cfgErr *domain.ConfigurationError
	if errors.As(err, &cfgErr) && len(cfgErr.Violations) > 0 {
		fmt.Fprintln(w, "configuration error:")
		for _, v := range cfgErr.Violations {
			if v.Field != "" {
				fmt.Fprintf(w, "  %s %s: %s\n", v.Code, v.Field, v.Message)
			} else {
				fmt.Fprintf(w, "  %s: %s\n", v.Code, v.Message)
			}
		}
		return
	}
	var applyErr *domain.ApplyError
	if errors.As(err, &applyErr) {
		fmt.Fprintf(w, "apply failed (%s): %v\n", applyErr.Code, err)
		return
	}
	fmt.Fprintln(w, err.Error())
}
