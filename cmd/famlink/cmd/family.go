package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"famlink/internal/family"
)

var flagRole string

var familyCmd = &cobra.Command{
	Use:   "family",
	Short: "Manage families, members and invitations",
}

var familyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your families",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		svc := family.NewService(a.api, a.log)
		families, err := svc.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(families) == 0 {
			fmt.Println("No families yet. Create one: famlink family create <name>")
			return nil
		}
		for _, f := range families {
			fmt.Printf("%6d  %-24s %d members\n", f.ID, f.Name, f.MemberCount)
		}
		return nil
	},
}

var familyCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a family",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := family.NewService(a.api, a.log).Create(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✅ Created family %q (id %d)\n", f.Name, f.ID)
		return nil
	},
}

var familyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a family",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad family id %q", args[0])
		}
		if !confirm(fmt.Sprintf("Delete family %d and everything in it?", id)) {
			fmt.Println("Cancelled")
			return nil
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := family.NewService(a.api, a.log).Delete(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Println("✅ Family deleted")
		return nil
	},
}

var familyMembersCmd = &cobra.Command{
	Use:   "members <family-id>",
	Short: "List a family's members",
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

		members, err := family.NewService(a.api, a.log).Members(cmd.Context(), id)
		if err != nil {
			return err
		}
		for _, m := range members {
			fmt.Printf("%6d  %-24s %s\n", m.UserID, m.Name, m.Role)
		}
		return nil
	},
}

var familyInviteCmd = &cobra.Command{
	Use:   "invite <family-id> <email>",
	Short: "Invite someone to a family",
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

		inv, err := family.NewService(a.api, a.log).Invite(cmd.Context(), id, args[1], flagRole)
		if err != nil {
			return err
		}
		fmt.Printf("✅ Invitation sent to %s (code %s)\n", inv.Email, inv.Code)
		return nil
	},
}

var familyInvitationsCmd = &cobra.Command{
	Use:   "invitations",
	Short: "List invitations addressed to you",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		invs, err := family.NewService(a.api, a.log).Invitations(cmd.Context())
		if err != nil {
			return err
		}
		if len(invs) == 0 {
			fmt.Println("No pending invitations")
			return nil
		}
		for _, inv := range invs {
			fmt.Printf("%-12s %-24s expires %s\n", inv.Code, inv.FamilyName, inv.ExpiresAt.Format("2006-01-02"))
		}
		return nil
	},
}

var familyAcceptCmd = &cobra.Command{
	Use:   "accept <code>",
	Short: "Accept an invitation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := family.NewService(a.api, a.log).Accept(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✅ Joined %q\n", f.Name)
		return nil
	},
}

var familyDeclineCmd = &cobra.Command{
	Use:   "decline <code>",
	Short: "Decline an invitation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := family.NewService(a.api, a.log).Decline(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Invitation declined")
		return nil
	},
}

func init() {
	familyInviteCmd.Flags().StringVar(&flagRole, "role", "member", "role for the invitee (admin|member|child)")
	familyCmd.AddCommand(familyListCmd, familyCreateCmd, familyDeleteCmd, familyMembersCmd,
		familyInviteCmd, familyInvitationsCmd, familyAcceptCmd, familyDeclineCmd)
	rootCmd.AddCommand(familyCmd)
}
