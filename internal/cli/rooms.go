package cli

import (
	"fmt"

	"github.com/convento/voicemesh/internal/adapters/directory"
	"github.com/spf13/cobra"
)

var (
	flagRoomColor   string
	flagRoomPrivate bool
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List public rooms",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir := directory.NewClient(cfg.APIBase, cfg.HTTPTimeout)
		rooms, err := dir.ListRooms(cmd.Context())
		if err != nil {
			return err
		}
		if len(rooms) == 0 {
			fmt.Println("no public rooms")
			return nil
		}
		for _, r := range rooms {
			fmt.Printf("%s  %-20s  %d participant(s)\n", r.ID, r.Name, len(r.Participants))
		}
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a room, enrolling yourself as its first participant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		self, err := selfParticipant()
		if err != nil {
			return err
		}
		dir := directory.NewClient(cfg.APIBase, cfg.HTTPTimeout)
		room, err := dir.CreateRoom(cmd.Context(), args[0], flagRoomColor, self.ID, flagRoomPrivate)
		if err != nil {
			return err
		}
		fmt.Printf("created room %s (%s)\n", room.Name, room.ID)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&flagRoomColor, "color", "", "room accent color")
	createCmd.Flags().BoolVar(&flagRoomPrivate, "private", false, "hide the room from the public listing")
	rootCmd.AddCommand(roomsCmd, createCmd)
}
