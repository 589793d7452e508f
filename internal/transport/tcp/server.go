// Package tcp 提供极简 TCP 事件流接入：首行 JWT 认证，
// 之后服务端按 JSON 行推送该用户的全部下行事件（只读通道，
// 适合 CLI 调试与轻量集成方，上行操作走 WS/HTTP）。
package tcp

import (
	"bufio"
	"context"
	"log"
	"net"
	"strings"

	"go-msgsync/internal/auth"
	"go-msgsync/internal/cache"
	"go-msgsync/internal/hub"
)

type Server struct {
	Addr      string
	JWTSecret string
	Hub       *hub.Hub
}

func (s *Server) Start(ctx context.Context) error {
	if s.Addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	go func() { <-ctx.Done(); ln.Close() }()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, c net.Conn) {
	defer c.Close()
	reader := bufio.NewReader(c)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	cl, err := auth.ParseJWT(s.JWTSecret, line)
	if err != nil {
		return
	}

	hc := s.Hub.Connect(cl.UserID)
	_ = cache.SetDeviceOnline(ctx, cl.UserID, hc.ID)
	defer func() {
		s.Hub.Disconnect(hc)
		_ = cache.SetDeviceOffline(context.Background(), cl.UserID, hc.ID)
	}()
	log.Printf("TCP connected: user=%s conn=%s", cl.UserID, hc.ID)

	for {
		select {
		case frame := <-hc.Outbound():
			if _, err := c.Write(append(frame, '\n')); err != nil {
				return
			}
		case <-hc.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}
