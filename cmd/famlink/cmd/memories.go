package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"famlink/internal/memories"
)

var (
	flagDate    string
	flagUnlocks string
	flagCadence string
)

var memoriesCmd = &cobra.Command{
	Use:   "memories",
	Short: "Family memories: posts, milestones, traditions, time capsules",
}

var postsCmd = &cobra.Command{
	Use:   "posts <family-id>",
	Short: "Show the family timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad family id %q", args[0])
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		posts, meta, err := memories.NewService(a.api, a.log).Posts(cmd.Context(), id, 1, 20)
		if err != nil {
			return err
		}
		for _, p := range posts {
			fmt.Printf("[%s] #%d %s\n", p.CreatedAt.Format("2006-01-02 15:04"), p.ID, p.Body)
		}
		if meta.Total > len(posts) {
			fmt.Printf("… and %d more\n", meta.Total-len(posts))
		}
		return nil
	},
}

var postCreateCmd = &cobra.Command{
	Use:   "post <family-id> <body>",
	Short: "Add a timeline post",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad family id %q", args[0])
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := memories.NewService(a.api, a.log).CreatePost(cmd.Context(), id, args[1], nil)
		if err != nil {
			return err
		}
		fmt.Printf("✅ Posted #%d\n", p.ID)
		return nil
	},
}

var milestonesCmd = &cobra.Command{
	Use:   "milestones <family-id>",
	Short: "List milestones",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad family id %q", args[0])
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ms, err := memories.NewService(a.api, a.log).Milestones(cmd.Context(), id)
		if err != nil {
			return err
		}
		for _, m := range ms {
			fmt.Printf("%s  %s\n", m.Date.Format("2006-01-02"), m.Title)
		}
		return nil
	},
}

var milestoneCreateCmd = &cobra.Command{
	Use:   "milestone <family-id> <title>",
	Short: "Record a milestone",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad family id %q", args[0])
		}
		date, err := time.Parse("2006-01-02", flagDate)
		if err != nil {
			return fmt.Errorf("bad --date %q, want YYYY-MM-DD", flagDate)
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := memories.NewService(a.api, a.log).CreateMilestone(cmd.Context(), id, args[1], "", date)
		if err != nil {
			return err
		}
		fmt.Printf("✅ Milestone %q on %s\n", m.Title, m.Date.Format("2006-01-02"))
		return nil
	},
}

var traditionsCmd = &cobra.Command{
	Use:   "traditions <family-id>",
	Short: "List traditions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad family id %q", args[0])
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ts, err := memories.NewService(a.api, a.log).Traditions(cmd.Context(), id)
		if err != nil {
			return err
		}
		for _, t := range ts {
			fmt.Printf("%-10s %s: %s\n", t.Cadence, t.Title, t.Description)
		}
		return nil
	},
}

var traditionCreateCmd = &cobra.Command{
	Use:   "tradition <family-id> <title> <description>",
	Short: "Record a tradition",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad family id %q", args[0])
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		t, err := memories.NewService(a.api, a.log).CreateTradition(cmd.Context(), id, args[1], args[2], flagCadence)
		if err != nil {
			return err
		}
		fmt.Printf("✅ Tradition %q (%s)\n", t.Title, t.Cadence)
		return nil
	},
}

var capsulesCmd = &cobra.Command{
	Use:   "capsules <family-id>",
	Short: "List time capsules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad family id %q", args[0])
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		cs, err := memories.NewService(a.api, a.log).Capsules(cmd.Context(), id)
		if err != nil {
			return err
		}
		for _, c := range cs {
			status := "🔒 sealed until " + c.UnlocksAt.Format("2006-01-02")
			if c.Opened {
				status = "open"
			}
			fmt.Printf("#%d %-24s %s\n", c.ID, c.Title, status)
		}
		return nil
	},
}

var capsuleCreateCmd = &cobra.Command{
	Use:   "capsule <family-id> <title> <message>",
	Short: "Seal a time capsule",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad family id %q", args[0])
		}
		unlocks, err := time.Parse("2006-01-02", flagUnlocks)
		if err != nil {
			return fmt.Errorf("bad --unlocks %q, want YYYY-MM-DD", flagUnlocks)
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := memories.NewService(a.api, a.log).CreateCapsule(cmd.Context(), id, args[1], args[2], unlocks)
		if err != nil {
			return err
		}
		fmt.Printf("✅ Capsule #%d sealed until %s\n", c.ID, c.UnlocksAt.Format("2006-01-02"))
		return nil
	},
}

var capsuleOpenCmd = &cobra.Command{
	Use:   "open <capsule-id>",
	Short: "Open a time capsule (refused before its unlock date)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad capsule id %q", args[0])
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := memories.NewService(a.api, a.log).OpenCapsule(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("📬 %s:\n%s\n", c.Title, c.Message)
		return nil
	},
}

func init() {
	milestoneCreateCmd.Flags().StringVar(&flagDate, "date", "", "milestone date (YYYY-MM-DD)")
	milestoneCreateCmd.MarkFlagRequired("date")
	traditionCreateCmd.Flags().StringVar(&flagCadence, "cadence", "yearly", "cadence (yearly|monthly|weekly)")
	capsuleCreateCmd.Flags().StringVar(&flagUnlocks, "unlocks", "", "unlock date (YYYY-MM-DD)")
	capsuleCreateCmd.MarkFlagRequired("unlocks")

	memoriesCmd.AddCommand(postsCmd, postCreateCmd, milestonesCmd, milestoneCreateCmd,
		traditionsCmd, traditionCreateCmd, capsulesCmd, capsuleCreateCmd, capsuleOpenCmd)
	rootCmd.AddCommand(memoriesCmd)
}
