package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/app-explorer/pkg/extract"
	"github.com/devicelab-dev/app-explorer/pkg/view"
)

var hierarchyCommand = &cli.Command{
	Name:  "hierarchy",
	Usage: "Print the element listing and fingerprint of the current screen",
	Description: `Capture the current screen and print it the way the oracle sees it,
together with the fingerprint the explorer would assign to it.

Examples:
  app-explorer hierarchy
  app-explorer --device emulator-5554 hierarchy --buttons`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "buttons",
			Usage: "List only actionable buttons",
		},
	},
	Action: runHierarchy,
}

func runHierarchy(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	w := c.App.Writer

	sess, err := openDevice(c.Context, cfg, w)
	if err != nil {
		return err
	}
	defer sess.cleanup()

	// The mock starts with the app stopped.
	if depth, err := sess.device.ForegroundDepth(c.Context, cfg.App.Package); err == nil && depth < 0 {
		if err := sess.device.Execute(c.Context, sess.device.LaunchIntent(cfg.App.Package)); err != nil {
			return err
		}
	}

	tree, err := sess.device.Capture(c.Context)
	if err != nil {
		return err
	}
	fp, err := view.NewFingerprinter(cfg.Fingerprint)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "activity:    %s\n", tree.Activity)
	fmt.Fprintf(w, "fingerprint: %s\n", fp.Fingerprint(tree))
	fmt.Fprintf(w, "nodes:       %d\n\n", tree.Len())

	listing := extract.Candidates(tree.Elements(-1))
	if !c.Bool("buttons") {
		fmt.Fprintln(w, listing.String())
		return nil
	}
	for _, b := range listing.Buttons() {
		fmt.Fprintf(w, "%3d  %-30s %s\n", b.ID, b.Label, b.Action.Target)
	}
	return nil
}
