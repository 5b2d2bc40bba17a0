package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	flagName     string
	flagEmail    string
	flagPassword string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := a.auth.Register(cmd.Context(), flagName, flagEmail, flagPassword)
		if err != nil {
			return err
		}
		fmt.Printf("✅ Registered %s <%s>. Now run: famlink login\n", u.Name, u.Email)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and cache the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := a.auth.Login(cmd.Context(), flagEmail, flagPassword)
		if err != nil {
			return err
		}
		fmt.Printf("✅ Logged in as %s\n", u.Name)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the cached session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.auth.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("✅ Logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.auth.Authenticated() {
			fmt.Println("Not logged in")
			return nil
		}
		u, ok := a.auth.CurrentUser()
		if !ok {
			fmt.Println("Session cached but profile missing, log in again")
			return nil
		}
		fmt.Printf("%s <%s> (id %d)\n", u.Name, u.Email, u.ID)
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&flagName, "name", "", "display name")
	registerCmd.Flags().StringVar(&flagEmail, "email", "", "email address")
	registerCmd.Flags().StringVar(&flagPassword, "password", "", "password")
	registerCmd.MarkFlagRequired("name")
	registerCmd.MarkFlagRequired("email")
	registerCmd.MarkFlagRequired("password")

	loginCmd.Flags().StringVar(&flagEmail, "email", "", "email address")
	loginCmd.Flags().StringVar(&flagPassword, "password", "", "password")
	loginCmd.MarkFlagRequired("email")
	loginCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(registerCmd, loginCmd, logoutCmd, whoamiCmd)
}
