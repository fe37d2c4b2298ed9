// Copyright 2025 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/cors"
)

// Server serves registered APIs over HTTP and websocket on one port.
type Server struct {
	server   *rpc.Server
	listener net.Listener
	httpSrv  *http.Server
}

// NewHandler registers apis on a fresh rpc server.
func NewHandler(apis []rpc.API) (*rpc.Server, error) {
	server := rpc.NewServer()
	for _, api := range apis {
		if err := server.RegisterName(api.Namespace, api.Service); err != nil {
			server.Stop()
			return nil, fmt.Errorf("failed to register %s API: %w", api.Namespace, err)
		}
	}
	return server, nil
}

// NewServer creates and starts a server listening on listenAddr. Cross-origin
// requests are allowed from corsDomains, websocket upgrades from the same
// origins.
func NewServer(listenAddr string, corsDomains []string, apis []rpc.API) (*Server, error) {
	server, err := NewHandler(apis)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		server.Stop()
		return nil, fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}
	httpSrv := &http.Server{Handler: newHandler(server, corsDomains)}

	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("Replica RPC server error", "err", err)
		}
	}()
	log.Info("Replica RPC server started", "addr", listener.Addr(), "cors", strings.Join(corsDomains, ","))

	return &Server{
		server:   server,
		listener: listener,
		httpSrv:  httpSrv,
	}, nil
}

func newHandler(server *rpc.Server, corsDomains []string) http.Handler {
	httpHandler := newCorsHandler(server, corsDomains)
	wsHandler := server.WebsocketHandler(corsDomains)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isWebsocket(r) {
			wsHandler.ServeHTTP(w, r)
			return
		}
		httpHandler.ServeHTTP(w, r)
	})
}

func newCorsHandler(srv http.Handler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		return srv
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodGet},
		AllowedHeaders: []string{"*"},
		MaxAge:         600,
	})
	return c.Handler(srv)
}

func isWebsocket(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Attach returns an in-process client.
func (s *Server) Attach() *rpc.Client {
	return rpc.DialInProc(s.server)
}

// Close stops the server.
func (s *Server) Close() error {
	err := s.httpSrv.Close()
	s.server.Stop()
	return err
}
