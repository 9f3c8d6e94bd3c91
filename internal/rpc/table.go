package rpc

import (
	"context"

	"ringdht/internal/table"
)

// RegisterTable binds the table server's methods.
//
//	dht.Put(key, value, ttl, unique) bool         answered once the forward settles
//	dht.PutHandler(key, value, ttl, unique) bool  local only
//	dht.Get(key, maxBytes, token) Page
//	dht.Count() int
//	dht.Delete(key) int
func RegisterTable(d *Dispatcher, srv *table.Server) {
	d.Register(table.MethodPut, func(ctx context.Context, args Args, reply Reply) {
		key, value, ttl, unique, err := putArgs(args)
		if err != nil {
			reply(nil, err)
			return
		}
		res := srv.Put(ctx, key, value, ttl, unique)
		go func() {
			r := <-res
			reply(r.OK, r.Err)
		}()
	})

	d.RegisterSync(table.MethodPutHandler, func(_ context.Context, args Args) (any, error) {
		key, value, ttl, unique, err := putArgs(args)
		if err != nil {
			return nil, err
		}
		return srv.PutHandler(key, value, ttl, unique)
	})

	d.RegisterSync(table.MethodGet, func(_ context.Context, args Args) (any, error) {
		if err := args.Expect(3); err != nil {
			return nil, err
		}
		key, err := args.Bytes(0)
		if err != nil {
			return nil, err
		}
		maxBytes, err := args.Int(1)
		if err != nil {
			return nil, err
		}
		token, err := args.Bytes(2)
		if err != nil {
			return nil, err
		}
		return srv.Get(key, maxBytes, token)
	})

	d.RegisterSync(table.MethodCount, func(_ context.Context, args Args) (any, error) {
		if err := args.Expect(0); err != nil {
			return nil, err
		}
		return srv.Count(), nil
	})

	d.RegisterSync(table.MethodDelete, func(_ context.Context, args Args) (any, error) {
		if err := args.Expect(1); err != nil {
			return nil, err
		}
		key, err := args.Bytes(0)
		if err != nil {
			return nil, err
		}
		return srv.Delete(key)
	})
}

func putArgs(args Args) (key, value []byte, ttl int, unique bool, err error) {
	if err = args.Expect(4); err != nil {
		return
	}
	if key, err = args.Bytes(0); err != nil {
		return
	}
	if value, err = args.Bytes(1); err != nil {
		return
	}
	if ttl, err = args.Int(2); err != nil {
		return
	}
	unique, err = args.Bool(3)
	return
}
