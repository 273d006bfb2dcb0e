package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/andy6609/Multithreading-chat-server/internal/logging"
	"github.com/andy6609/Multithreading-chat-server/internal/protocol"
	"github.com/andy6609/Multithreading-chat-server/pkg/client"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8111", "chat server address")
	name := flag.String("name", "", "name to log in with")
	flag.Parse()

	logger := logging.New("info", "console", os.Stderr)
	if *name == "" {
		logger.Fatal().Msg("-name is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	c, err := client.Dial(ctx, *addr)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect")
	}
	defer c.Close()

	if code, err := c.Login(*name); err != nil {
		logger.Fatal().Err(err).Stringer("code", code).Msg("login")
	}
	logger.Info().Str("server", c.ServerName()).Msg("logged in")

	go func() {
		for {
			msg, err := c.Next()
			if err != nil {
				if !errors.Is(err, protocol.ErrTransportClosed) {
					logger.Error().Err(err).Msg("receive")
				}
				os.Exit(0)
			}
			printMessage(msg)
		}
	}()

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if err := c.Send(sc.Text()); err != nil {
			logger.Fatal().Err(err).Msg("send")
		}
	}
}

func printMessage(msg any) {
	switch m := msg.(type) {
	case protocol.ChatRelay:
		ts := time.Unix(int64(m.Timestamp), 0).Format(time.TimeOnly)
		if m.Sender == "" {
			fmt.Printf("%s * %s\n", ts, m.Text)
		} else {
			fmt.Printf("%s <%s> %s\n", ts, m.Sender, m.Text)
		}
	case protocol.UserAdded:
		fmt.Printf("-> %s joined\n", m.Name)
	case protocol.UserRemoved:
		fmt.Printf("<- %s left (%s)\n", m.Name, m.Code)
	}
}
