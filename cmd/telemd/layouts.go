package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"telemlink/pkg/protocol"
)

func newLayoutsCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "layouts [name]",
		Short: "List payload layouts, or the fields of one layout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			catalog, err := cfg.BuildCatalog()
			if err != nil {
				return err
			}

			if len(args) == 0 {
				return printCatalog(stdout, catalog, cfg.Decoder.Layout)
			}
			layout, err := catalog.Lookup(args[0])
			if err != nil {
				return err
			}
			return printLayout(stdout, layout)
		},
	}
}

func printCatalog(w io.Writer, catalog *protocol.Catalog, active string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFIELDS\tPAYLOAD\tMIN FRAME\t")
	for _, name := range catalog.Names() {
		layout, err := catalog.Lookup(name)
		if err != nil {
			return err
		}
		marker := ""
		if name == active {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s%s\t%d\t%d\t%d\t\n", name, marker, len(layout.Fields()), layout.PayloadSize(), layout.MinFrameSize())
	}
	return tw.Flush()
}

func printLayout(w io.Writer, layout *protocol.FieldLayout) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tTYPE\tOFFSET\tSCALE\tDIV\t")
	for _, f := range layout.Fields() {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t\n", f.Name, f.Type, f.Offset, formatFactor(f.Scale), formatFactor(f.Div))
	}
	return tw.Flush()
}

func formatFactor(v float64) string {
	if v == 0 {
		return "1"
	}
	return fmt.Sprintf("%g", v)
}
