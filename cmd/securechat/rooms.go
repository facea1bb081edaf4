package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/securechat-sdk-go/securechat"
	"github.com/vovakirdan/securechat-sdk-go/securechat/rest"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List your rooms, most recent first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		me, err := restore(ctx)
		if err != nil {
			return err
		}
		rooms, err := app.ListRooms(ctx)
		if err != nil {
			return err
		}
		if len(rooms) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No rooms yet. Start one with `securechat dm` or `securechat room create`.")
			return nil
		}
		for _, r := range rooms {
			renderRoomLine(cmd.OutOrStdout(), r, me)
		}
		return nil
	},
}

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Create or join rooms",
}

var roomCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a room",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		if _, err := restore(ctx); err != nil {
			return err
		}
		r, err := app.CreateRoom(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created room %s (%s)\n", r.ID, plain(r.Name))
		return nil
	},
}

var roomJoinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join a room by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := rest.ParseID(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()
		me, err := restore(ctx)
		if err != nil {
			return err
		}
		r, err := app.JoinRoom(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Joined %s (%d participants)\n", plain(r.DisplayName(me.ID)), len(r.Participants))
		return nil
	},
}

var dmCmd = &cobra.Command{
	Use:   "dm <user-id>",
	Short: "Open a direct conversation with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := rest.ParseID(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()
		me, err := restore(ctx)
		if err != nil {
			return err
		}
		r, err := app.StartDirectChat(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Room %s with %s; run `securechat chat %s`\n", r.ID, plain(r.DisplayName(me.ID)), r.ID)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find users by username or email",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		if _, err := restore(ctx); err != nil {
			return err
		}

		s := app.NewUserSearch()
		defer s.Stop()
		done := make(chan []securechat.User, 1)
		s.OnResults(func(_ string, users []securechat.User) { done <- users })
		s.SetQuery(strings.Join(args, " "))

		select {
		case users := <-done:
			if len(users) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No users found")
			}
			for _, u := range users {
				fmt.Fprintf(cmd.OutOrStdout(), "%6s  %s <%s>\n", u.ID, plain(u.Username), u.Email)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	},
}

func init() {
	roomCmd.AddCommand(roomCreateCmd, roomJoinCmd)
}
