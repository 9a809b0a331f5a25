package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/wesm/msgextract/internal/cfb"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.msg>",
	Short: "List the compound-file directory tree of a .msg file",
	Long: `Print every storage and stream of a compound file with its size.

Useful for diagnosing .msg files that fail to parse: property streams are
named __substg1.0_<id><type>, attachments live under __attach_version1.0_#N
and recipients under __recip_version1.0_#N.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(args[0], cfg.Parse.MaxInputBytes)
		if err != nil {
			return err
		}
		f, err := cfb.Open(data)
		if err != nil {
			logger.Debug("open failed", "trace", eris.ToString(err, true))
			return fmt.Errorf("open %s: %w", args[0], err)
		}
		return writeTree(cmd.OutOrStdout(), f)
	},
}

// writeTree prints the directory tree of f, children indented under their
// storage.
func writeTree(w io.Writer, f *cfb.File) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "compound file v%d, %d-byte sectors\n", f.Version(), f.SectorSize())
	var walk func(e *cfb.Entry, depth int)
	walk = func(e *cfb.Entry, depth int) {
		indent := strings.Repeat("  ", depth)
		switch {
		case e.IsStorage():
			name := e.Name
			if e.Type == cfb.TypeRoot {
				name = "/"
			}
			fmt.Fprintf(&sb, "%s%s/\n", indent, strings.TrimSuffix(name, "/"))
			for _, c := range e.Children() {
				walk(c, depth+1)
			}
		default:
			fmt.Fprintf(&sb, "%s%-48s %10d\n", indent, e.Name, e.Size)
		}
	}
	walk(f.Root(), 0)
	_, err := io.WriteString(w, sb.String())
	return err
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
