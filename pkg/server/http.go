/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of mosdns.
 *
 * mosdns is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * mosdns is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 */

package server

import (
	"errors"
	"net"
	"net/http"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
	"go.uber.org/zap"
)

const (
	defaultIdleTimeout = time.Second * 60

	// Slowloris protection.
	defaultReadHeaderTimeout = 3 * time.Second

	// Bodies of batch requests can be large.
	defaultReadTimeout = 60 * time.Second

	defaultMaxHeaderBytes = 16 << 10
)

// ServeHTTP serves the cache API on l until the Server is closed.
func (s *Server) ServeHTTP(l net.Listener) error {
	defer l.Close()

	if s.opts.HttpHandler == nil {
		return errMissingHTTPHandler
	}

	if s.opts.ProxyProtocol {
		l = &proxyproto.Listener{Listener: l, ReadHeaderTimeout: defaultReadHeaderTimeout}
	}

	hs := &http.Server{
		Handler:           s.opts.HttpHandler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       defaultReadTimeout,
		IdleTimeout:       s.opts.IdleTimeout,
		MaxHeaderBytes:    defaultMaxHeaderBytes,
		ErrorLog:          zap.NewStdLog(s.opts.Logger),
	}
	if ok := s.trackCloser(hs, true); !ok {
		return ErrServerClosed
	}
	defer s.trackCloser(hs, false)

	s.opts.Logger.Info("http server started", zap.Stringer("addr", l.Addr()))
	err := hs.Serve(l)
	if errors.Is(err, http.ErrServerClosed) || s.Closed() {
		return ErrServerClosed
	}
	return err
}
