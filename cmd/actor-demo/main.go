// Package main demonstrates the actor runtime end to end: spawning a small
// worker pool behind a round-robin router, sending fire-and-forget work,
// and making a request/response round trip to a single greeter actor.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/orizon-lang/orizon-actors/actor"
	"github.com/orizon-lang/orizon-actors/mailbox"
	"github.com/orizon-lang/orizon-actors/router"
	"github.com/orizon-lang/orizon-actors/system"
	"go.uber.org/zap"
)

type worker struct {
	actor.BaseActor
	id int
}

func (w *worker) Behaviors() actor.Behaviors {
	return actor.Behaviors{
		actor.DefaultBehavior: func(ctx *actor.Context, msg mailbox.Message) error {
			fmt.Printf("worker %d handled %q\n", w.id, msg.Type)
			return nil
		},
	}
}

type greeter struct {
	actor.BaseActor
}

func (greeter) Behaviors() actor.Behaviors {
	return actor.Behaviors{
		actor.DefaultBehavior: func(ctx *actor.Context, msg mailbox.Message) error {
			name, _ := msg.Payload.(string)
			ctx.Respond(msg, fmt.Sprintf("hello, %s", name), nil)
			return nil
		},
	}
}

func main() {
	log, _ := zap.NewDevelopment()
	defer log.Sync()

	cfg := system.DefaultConfig()
	cfg.Logger = log
	sys := system.New(cfg)
	defer sys.Shutdown(context.Background())

	var routees []actor.PID
	for i := 0; i < 3; i++ {
		id := i
		pid, err := sys.Spawn(actor.Props{Factory: func() actor.Actor { return &worker{id: id} }})
		if err != nil {
			log.Fatal("spawn worker", zap.Error(err))
		}
		routees = append(routees, pid)
	}

	r := router.New(router.RoundRobin, sys.Send, routees)
	for i := 0; i < 6; i++ {
		_ = r.Route(mailbox.Message{Type: fmt.Sprintf("job-%d", i)}, "")
	}

	greeterPID, err := sys.Spawn(actor.Props{Factory: func() actor.Actor { return &greeter{} }})
	if err != nil {
		log.Fatal("spawn greeter", zap.Error(err))
	}
	reply, err := sys.Request(greeterPID, mailbox.Message{Type: "greet", Payload: "orizon"}, time.Second)
	if err != nil {
		log.Fatal("request", zap.Error(err))
	}
	fmt.Println(reply.Payload)

	time.Sleep(50 * time.Millisecond) // let the router's fire-and-forget jobs finish before shutdown
}
