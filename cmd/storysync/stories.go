package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/storysync/internal/app"
	"github.com/agentworkforce/storysync/internal/story"
	"github.com/agentworkforce/storysync/internal/syncer"
)

// printView renders listings as tables. Every render is printed so a stale
// cached listing is followed by the fresh one. Renders arriving after detach
// are dropped.
type printView struct {
	mu       sync.Mutex
	out      io.Writer
	query    string
	detached bool
}

func (v *printView) detach() {
	v.mu.Lock()
	v.detached = true
	v.mu.Unlock()
}

func (v *printView) Loading() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.detached {
		fmt.Fprintln(v.out, "Loading stories...")
	}
}

func (v *printView) Render(stories []story.Story, source syncer.Source) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.detached {
		return
	}
	stories = story.Filter(stories, v.query)
	label := "fresh"
	if source == syncer.SourceCache {
		label = "cached"
	}
	fmt.Fprintf(v.out, "%d stories (%s)\n", len(stories), label)
	printStories(v.out, stories)
}

func (v *printView) Diagnostic(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.detached {
		return
	}
	fmt.Fprintf(v.out, "Could not refresh stories: %s\n", story.Message(err))
}

func printStories(out io.Writer, stories []story.Story) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATED\tLOCATION\tDESCRIPTION")
	for _, s := range stories {
		location := "-"
		if s.HasLocation() {
			location = fmt.Sprintf("%.4f,%.4f", *s.Lat, *s.Lon)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.CreatedAt.Format(time.DateOnly), location, truncate(s.Description, 60))
	}
	_ = tw.Flush()
}

func truncate(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}

func newStoriesCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "stories", Short: "Browse and submit stories"}

	var query string
	var wait time.Duration
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stories from the cache, then refresh them",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.engine(app.Options{})
			if err != nil {
				return err
			}
			view := &printView{out: c.out, query: query}
			defer view.detach()
			rv, err := a.Coordinator.ListStories(cmd.Context(), syncer.NewSession(), view)
			if err != nil {
				return err
			}
			if wait <= 0 {
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			// The view already reported refresh failures.
			_ = rv.Wait(ctx)
			return nil
		},
	}
	listCmd.Flags().StringVarP(&query, "query", "q", "", "only show stories whose name or description matches")
	listCmd.Flags().DurationVar(&wait, "wait", 15*time.Second, "how long to wait for the refresh (0 to skip)")
	cmd.AddCommand(listCmd)

	showCmd := &cobra.Command{
		Use:   "show STORY_ID",
		Short: "Show one story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.engine(app.Options{})
			if err != nil {
				return err
			}
			detail, err := a.Coordinator.GetStory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			s := detail.Story
			fmt.Fprintf(c.out, "%s by %s (%s)\n", s.ID, s.Name, s.CreatedAt.Format(time.RFC1123))
			fmt.Fprintln(c.out, s.Description)
			fmt.Fprintf(c.out, "Photo: %s\n", s.PhotoURL)
			if s.HasLocation() {
				fmt.Fprintf(c.out, "Location: %.6f, %.6f\n", *s.Lat, *s.Lon)
			}
			fmt.Fprintf(c.out, "Bookmarked: %t\n", detail.Bookmarked)
			if detail.Source == syncer.SourceCache {
				fmt.Fprintln(c.out, "(offline copy)")
			}
			return nil
		},
	}
	cmd.AddCommand(showCmd)

	var description, photoPath string
	var lat, lon float64
	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Post a new story, deferring it when offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			photo, err := os.ReadFile(photoPath)
			if err != nil {
				return fmt.Errorf("read photo: %w", err)
			}
			ns := story.NewStory{
				Description: description,
				Photo:       photo,
				PhotoName:   filepath.Base(photoPath),
				PhotoType:   mime.TypeByExtension(strings.ToLower(filepath.Ext(photoPath))),
			}
			latSet, lonSet := cmd.Flags().Changed("lat"), cmd.Flags().Changed("lon")
			if latSet != lonSet {
				return fmt.Errorf("--lat and --lon must be given together")
			}
			if latSet {
				ns.Lat, ns.Lon = &lat, &lon
			}
			a, err := c.engine(app.Options{})
			if err != nil {
				return err
			}
			result, err := a.Coordinator.SubmitStory(cmd.Context(), ns)
			if err != nil {
				return err
			}
			if result.Status == syncer.SubmitDeferred {
				fmt.Fprintf(c.out, "You are offline. The story was saved and will be posted when the connection returns (%s).\n", result.RecordID)
				return nil
			}
			fmt.Fprintln(c.out, "Story posted")
			return nil
		},
	}
	submitCmd.Flags().StringVarP(&description, "description", "d", "", "story text (required)")
	submitCmd.Flags().StringVar(&photoPath, "photo", "", "path to the photo (required)")
	submitCmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	submitCmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	_ = submitCmd.MarkFlagRequired("description")
	_ = submitCmd.MarkFlagRequired("photo")
	cmd.AddCommand(submitCmd)

	return cmd
}

func newBookmarksCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookmarks",
		Short: "List saved stories",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.engine(app.Options{})
			if err != nil {
				return err
			}
			bookmarks, err := a.Coordinator.Bookmarks(cmd.Context())
			if err != nil {
				return err
			}
			if len(bookmarks) == 0 {
				fmt.Fprintln(c.out, "No saved stories")
				return nil
			}
			printStories(c.out, bookmarks)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add STORY_ID",
		Short: "Save a story from the cached listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.engine(app.Options{})
			if err != nil {
				return err
			}
			s, err := a.Coordinator.BookmarkFromSession(cmd.Context(), nil, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Saved %s\n", s.ID)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove STORY_ID",
		Short: "Remove a saved story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.engine(app.Options{})
			if err != nil {
				return err
			}
			if err := a.Coordinator.Unbookmark(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Removed %s\n", args[0])
			return nil
		},
	})
	return cmd
}
