package render

import (
	"fmt"
	"io"
	"strings"
)

// WriteText formats v for a terminal. A hidden view writes nothing.
func WriteText(w io.Writer, v View) error {
	var b strings.Builder
	switch v.Kind {
	case KindDetect:
		d := v.Detect
		fmt.Fprintf(&b, "Objects: %d  Model: %s  Time: %ds\n", d.TotalObjects, d.Model, d.ElapsedSeconds)
		if d.Placeholder != "" {
			fmt.Fprintf(&b, "  %s\n", d.Placeholder)
		}
		for i, e := range d.Entries {
			fmt.Fprintf(&b, "%2d. %s [%s]\n", i+1, e.Name, e.Confidence)
			if e.Location != "" {
				fmt.Fprintf(&b, "    at: %s\n", e.Location)
			}
			if e.Details != "" {
				fmt.Fprintf(&b, "    %s\n", e.Details)
			}
		}
	case KindVQA:
		if v.VQA.Answer == "" {
			b.WriteString("Ask a question about the image: ask <question>\n")
		} else {
			fmt.Fprintf(&b, "Answer: %s\n", v.VQA.Answer)
		}
	case KindImageGen:
		switch {
		case v.ImageGen.ImageURL != "":
			fmt.Fprintf(&b, "Image: %s\n", truncate(v.ImageGen.ImageURL, 120))
		case v.ImageGen.Placeholder != "":
			fmt.Fprintf(&b, "%s\n", v.ImageGen.Placeholder)
		default:
			b.WriteString("Describe the image to generate: generate <prompt>\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// truncate shortens long data URIs for display.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
