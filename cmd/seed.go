package cmd

import (
	"fmt"

	"github.com/jmehdipour/messageboard/internal/app"
	"github.com/jmehdipour/messageboard/internal/logger"
	"github.com/jmehdipour/messageboard/internal/repository"
	"github.com/jmehdipour/messageboard/internal/service/boards"
	"github.com/jmehdipour/messageboard/internal/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create a demo board with a moderated conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.Log
		a, err := app.Open(cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		ctx := cmd.Context()
		if err := repository.Migrate(ctx, a.Store); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		notifier, _ := a.Wake(nil)
		svc := boards.New(repository.NewBoardRepository(a.EventLog()), notifier, log)

		admin, alice, bob := util.NewUserID(), util.NewUserID(), util.NewUserID()

		boardID, err := svc.CreateBoard(ctx, "General", admin)
		if err != nil {
			return fmt.Errorf("create board: %w", err)
		}
		welcome, err := svc.PostMessage(ctx, boardID, "Welcome to the board", nil, admin)
		if err != nil {
			return fmt.Errorf("post welcome: %w", err)
		}
		if _, err := svc.PostMessage(ctx, boardID, "Thanks, glad to be here", &welcome, alice); err != nil {
			return fmt.Errorf("post reply: %w", err)
		}
		if err := svc.ModerateUser(ctx, boardID, bob, admin); err != nil {
			return fmt.Errorf("moderate: %w", err)
		}
		pending, err := svc.PostMessage(ctx, boardID, "First post, please approve", nil, bob)
		if err != nil {
			return fmt.Errorf("post moderated: %w", err)
		}
		if err := svc.ApproveMessage(ctx, boardID, pending, admin); err != nil {
			return fmt.Errorf("approve: %w", err)
		}

		log.Info("seed complete",
			zap.String("board_id", boardID),
			zap.String("admin", admin),
			zap.String("alice", alice),
			zap.String("bob", bob))
		return nil
	},
}
