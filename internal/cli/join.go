package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/convento/voicemesh/internal/adapters/capture"
	"github.com/convento/voicemesh/internal/adapters/directory"
	"github.com/convento/voicemesh/internal/adapters/relay"
	"github.com/convento/voicemesh/internal/adapters/rtc"
	"github.com/convento/voicemesh/internal/app"
	"github.com/convento/voicemesh/internal/core"
	"github.com/convento/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var flagDegraded bool

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join a voice room and stay connected until quit",
	Long: `Join connects to every participant of the room. While joined:

  m          toggle mute
  d          toggle deafen
  s          toggle screen share
  i <device> switch input device
  q          leave and quit`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(domain.RoomID(args[0]))
	},
}

func init() {
	joinCmd.Flags().BoolVar(&flagDegraded, "allow-degraded", false, "join listen-only when no microphone is available")
	rootCmd.AddCommand(joinCmd)
}

func selfParticipant() (*domain.Participant, error) {
	name := flagUsername
	if name == "" {
		name = os.Getenv("USER")
	}
	return domain.NewParticipant(name)
}

func runJoin(roomID domain.RoomID) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	self, err := selfParticipant()
	if err != nil {
		return err
	}

	dirClient := directory.NewClient(cfg.APIBase, cfg.HTTPTimeout)
	relayClient := relay.NewClient(cfg.APIBase, cfg.HTTPTimeout)
	factory, err := rtc.NewFactory(cfg.STUNServers)
	if err != nil {
		return err
	}
	engine, err := capture.NewEngine()
	if err != nil {
		return err
	}

	media := app.NewMediaSession(engine, logSinkFactory)
	ctrl := app.NewController(*self, relayClient, dirClient, factory, media, cfg)
	go ctrl.Run(ctx)
	go printEvents(ctx, ctrl.Events())

	room := &domain.Room{ID: roomID}
	if err := ctrl.Join(ctx, room, app.JoinOptions{AllowDegraded: flagDegraded}); err != nil {
		return fmt.Errorf("join %s: %w", roomID, err)
	}
	fmt.Printf("joined %s as %s\n", roomID, self.Username)

	go readCommands(ctx, cancel, ctrl)
	<-ctx.Done()
	ctrl.Leave()
	return nil
}

func readCommands(ctx context.Context, cancel context.CancelFunc, ctrl *app.Controller) {
	muted, deafened := false, false
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "m":
			muted = !muted
			ctrl.SetMuted(muted)
			fmt.Printf("muted: %v\n", muted)
		case line == "d":
			deafened = !deafened
			ctrl.SetDeafened(deafened)
			fmt.Printf("deafened: %v\n", deafened)
		case line == "s":
			if err := ctrl.StartScreenShare(ctx); err != nil {
				if err == app.ErrScreenShareActive {
					ctrl.StopScreenShare()
					fmt.Println("screen share stopped")
				} else {
					fmt.Printf("screen share: %v\n", err)
				}
			} else {
				fmt.Println("screen share started")
			}
		case strings.HasPrefix(line, "i "):
			device := strings.TrimSpace(strings.TrimPrefix(line, "i "))
			if err := ctrl.SwitchInputDevice(ctx, device); err != nil {
				fmt.Printf("switch input: %v\n", err)
			} else {
				fmt.Printf("input device: %s\n", device)
			}
		case line == "q":
			cancel()
			return
		}
	}
}

func printEvents(ctx context.Context, events <-chan core.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Kind {
			case core.EventPeerState:
				fmt.Printf("* %s: %s\n", ev.Peer, ev.State)
			case core.EventParticipantJoined:
				fmt.Printf("* %s joined\n", ev.Peer)
			case core.EventParticipantLeft:
				fmt.Printf("* %s left\n", ev.Peer)
			case core.EventRelayPaused:
				fmt.Println("* signaling unreachable, retrying slowly")
			case core.EventRelayResumed:
				fmt.Println("* signaling recovered")
			case core.EventScreenShareEnded:
				fmt.Println("* screen share ended by the system")
			case core.EventLeft:
				fmt.Println("* left the room")
			}
		}
	}
}

// logSink stands in for an audio output device. Rendering to a playback
// device is a UI concern; the headless CLI only tracks volume state.
type logSink struct {
	peer domain.UserID
}

func (s *logSink) SetVolume(v float64) {
	log.Debug().Str("module", "cli").Str("peer", string(s.peer)).Float64("volume", v).Msg("sink volume")
}

func (s *logSink) Close() {}

func newLogSink(peer domain.UserID, _ core.RemoteTrack) core.AudioSink {
	return &logSink{peer: peer}
}

var logSinkFactory core.SinkFactory = newLogSink
