// Command graft is thin cobra plumbing over the graft engine (spec.md §1:
// "no behavior lives here" — every subcommand is a few lines gluing flags
// to graft.Open/Apply/Output/Unrecord and a changestore backend; there is
// no record subcommand).
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gocloud.dev/blob/fileblob"

	"github.com/graftvcs/graft"
	"github.com/graftvcs/graft/changestore"
	"github.com/graftvcs/graft/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var repoDir string

	root := &cobra.Command{
		Use:           "graft",
		Short:         "graft is a content-addressed, graph-based version control engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&repoDir, "repo", ".graft", "repository directory")

	root.AddCommand(
		newChannelCmd(&repoDir),
		newApplyCmd(&repoDir),
		newUnrecordCmd(&repoDir),
		newOutputCmd(&repoDir),
	)
	return root
}

// openRepo wires a store.Bolt + changestore.Filesystem pair rooted at dir,
// creating dir if necessary: dir/pristine.bolt holds the graph, dir/changes
// holds change files (spec.md §4.8/§6's on-disk format).
func openRepo(dir string) (*graft.Pristine, changestore.Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	b, err := store.OpenBolt(filepath.Join(dir, "pristine.bolt"))
	if err != nil {
		return nil, nil, fmt.Errorf("open pristine: %w", err)
	}
	changesDir := filepath.Join(dir, "changes")
	if err := os.MkdirAll(changesDir, 0o755); err != nil {
		return nil, nil, err
	}
	bucket, err := fileblob.OpenBucket(changesDir, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("open change store: %w", err)
	}
	return graft.Open(b), changestore.NewFilesystem(bucket), nil
}

func newChannelCmd(repoDir *string) *cobra.Command {
	cmd := &cobra.Command{Use: "channel", Short: "manage channels"}

	create := &cobra.Command{
		Use:   "create NAME",
		Short: "open (and implicitly create) a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := openRepo(*repoDir)
			if err != nil {
				return err
			}
			p.OpenChannel(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "channel %q ready\n", args[0])
			return nil
		},
	}

	fork := &cobra.Command{
		Use:   "fork SRC DST",
		Short: "fork SRC into a new independent channel DST",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := openRepo(*repoDir)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			src := p.OpenChannel(args[0])
			txn, err := p.Store.BeginWrite(ctx)
			if err != nil {
				return err
			}
			if _, err := src.Fork(txn, args[1]); err != nil {
				txn.Rollback()
				return err
			}
			return txn.Commit()
		},
	}

	cmd.AddCommand(create, fork)
	return cmd
}

func newApplyCmd(repoDir *string) *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "apply HASH",
		Short: "apply the change named HASH (already present in the change store) to a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cs, err := openRepo(*repoDir)
			if err != nil {
				return err
			}
			h, err := graft.ParseHash(args[0])
			if err != nil {
				return err
			}
			c, err := cs.GetChange(cmd.Context(), h)
			if err != nil {
				return err
			}
			ch := p.OpenChannel(channel)
			id, err := graft.Apply(ch, c)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %s as change %d\n", h, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "main", "target channel")
	return cmd
}

func newUnrecordCmd(repoDir *string) *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "unrecord HASH",
		Short: "remove the change named HASH from a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cs, err := openRepo(*repoDir)
			if err != nil {
				return err
			}
			h, err := graft.ParseHash(args[0])
			if err != nil {
				return err
			}
			c, err := cs.GetChange(cmd.Context(), h)
			if err != nil {
				return err
			}
			ch := p.OpenChannel(channel)
			return graft.Unrecord(ch, c)
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "main", "target channel")
	return cmd
}

func newOutputCmd(repoDir *string) *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "output INODE",
		Short: "render a file's current contents to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cs, err := openRepo(*repoDir)
			if err != nil {
				return err
			}
			var inode uint64
			if _, err := fmt.Sscanf(args[0], "%d", &inode); err != nil {
				return fmt.Errorf("parse inode: %w", err)
			}

			ctx := cmd.Context()
			txn, err := p.Store.BeginRead(ctx)
			if err != nil {
				return err
			}
			pos, ok, err := p.InodePosition(txn, graft.Inode(inode))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("inode %d not found", inode)
			}
			root := graft.Vertex{Change: pos.Change, Start: pos.Pos, End: pos.Pos}
			resolver := changestore.Resolver{Ctx: ctx, Store: cs, Pristine: p, Txn: txn}
			rendered, err := graft.Output(txn, p, channel, root, resolver)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(rendered.Bytes)
			return err
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "main", "channel to render from")
	return cmd
}
