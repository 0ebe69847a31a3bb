package main

import (
	"context"
	"time"

	"github.com/starboard-forum/starboard/ai"
	"github.com/starboard-forum/starboard/config"
	"github.com/starboard-forum/starboard/models"
	"github.com/starboard-forum/starboard/moderation"
	"github.com/starboard-forum/starboard/routes"
	"github.com/starboard-forum/starboard/tasks"
	"github.com/starboard-forum/starboard/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db := config.InitDatabase(&models.User{}, &models.Post{}, &models.Comment{})

	// One AI client per process, handed explicitly to every consumer
	client := ai.NewClient(cfg)
	guard := moderation.NewGuard(moderation.NewGate(client))

	queue := tasks.NewQueue(utils.GetRedis(), tasks.AutoReplyQueueKey)
	replier := tasks.NewAutoReplier(db, queue, client, guard, time.Duration(cfg.ReplyQueuePollSecs)*time.Second)
	replier.Start(context.Background())

	r := routes.SetupRouter(db, guard, replier)

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
