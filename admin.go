package weave

import (
	"context"
	"fmt"
	"time"
)

// Administrative helpers matching the set exposed by the reference
// client's thingsdb/client/buildin.py. Each builds a server-side
// expression string and delegates to Query against the "@t" (thingsdb)
// scope, except for the handful that target "@n" (node) instead. No
// new wire behavior, pure sugar.

const (
	scopeThingsDB = "@t"
	scopeNode     = "@n"
)

func (c *Client) adminQuery(ctx context.Context, scope, code string, timeout time.Duration) (any, error) {
	return c.Query(ctx, scope, code, timeout, nil)
}

// --- Collections ---

func (c *Client) CollectionsInfo(ctx context.Context, timeout time.Duration) (any, error) {
	return c.adminQuery(ctx, scopeThingsDB, "collections_info();", timeout)
}

func (c *Client) CollectionInfo(ctx context.Context, name string, timeout time.Duration) (any, error) {
	return c.adminQuery(ctx, scopeThingsDB, fmt.Sprintf("collection_info(%q);", name), timeout)
}

func (c *Client) NewCollection(ctx context.Context, name string, timeout time.Duration) (any, error) {
	return c.adminQuery(ctx, scopeThingsDB, fmt.Sprintf("new_collection(%q);", name), timeout)
}

func (c *Client) DeleteCollection(ctx context.Context, name string, timeout time.Duration) (any, error) {
	return c.adminQuery(ctx, scopeThingsDB, fmt.Sprintf("del_collection(%q);", name), timeout)
}

func (c *Client) RenameCollection(ctx context.Context, oldName, newName string, timeout time.Duration) (any, error) {
	return c.adminQuery(ctx, scopeThingsDB, fmt.Sprintf("rename_collection(%q, %q);", oldName, newName), timeout)
}

func (c *Client) HasCollection(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	v, err := c.adminQuery(ctx, scopeThingsDB, fmt.Sprintf("has_collection(%q);", name), timeout)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

// --- Users ---

func (c *Client) NewUser(ctx context.Context, name string, timeout time.Duration) (any, error) {
	return c.adminQuery(ctx, scopeThingsDB, fmt.Sprintf("new_user(%q);", name), timeout)
}

func (c *Client) DeleteUser(ctx context.Context, name string, timeout time.Duration) (any, error) {
	return c.adminQuery(ctx, scopeThingsDB, fmt.Sprintf("del_user(%q);", name), timeout)
}

func (c *Client) RenameUser(ctx context.Context, oldName, newName string, timeout time.Duration) (any, error) {
	return c.adminQuery(ctx, scopeThingsDB, fmt.Sprintf("rename_user(%q, %q);", oldName, newName), timeout)
}

func (c *Client) SetPassword(ctx context.Context, name, password string, timeout time.Duration) (any, error) {
	return c.adminQuery(ctx, scopeThingsDB, fmt.Sprintf("set_password(%q, %q);", name, password), timeout)
}

func (c *Client) GrantUser(ctx context.Context, name, scope string, access Access, timeout time.Duration) (any, error) {
	c.cfg.logger.Debugf("granting %s (%d) on %s to %s", access, int(access), scope, name)
	return c.adminQuery(ctx, scopeThingsDB, fmt.Sprintf("grant(%q, %q, %d);", scope, name, int(access)), timeout)
}

func (c *Client) RevokeUser(ctx context.Context, name, scope string, access Access, timeout time.Duration) (any, error) {
	c.cfg.logger.Debugf("revoking %s (%d) on %s from %s", access, int(access), scope, name)
	return c.adminQuery(ctx, scopeThingsDB, fmt.Sprintf("revoke(%q, %q, %d);", scope, name, int(access)), timeout)
}

func (c *Client) UserInfo(ctx context.Context, name string, timeout time.Duration) (any, error) {
	return c.adminQuery(ctx, scopeThingsDB, fmt.Sprintf("user_info(%q);", name), timeout)
}

func (c *Client) UsersInfo(ctx context.Context, timeout time.Duration) (any, error) {
	return c.adminQuery(ctx, scopeThingsDB, "users_info();", timeout)
}

func (c *Client) HasUser(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	v, err := c.adminQuery(ctx, scopeThingsDB, fmt.Sprintf("has_user(%q);", name), timeout)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

// --- Tokens ---

func (c *Client) NewToken(ctx context.Context, user string, expirationTime int64, description string, timeout time.Duration) (any, error) {
	code := fmt.Sprintf("new_token(%q, %d, %q);", user, expirationTime, description)
	return c.adminQuery(ctx, scopeThingsDB, code, timeout)
}

func (c *Client) DeleteToken(ctx context.Context, key string, timeout time.Duration) (any, error) {
	return c.adminQuery(ctx, scopeThingsDB, fmt.Sprintf("del_token(%q);", key), timeout)
}

func (c *Client) HasToken(ctx context.Context, key string, timeout time.Duration) (bool, error) {
	v, err := c.adminQuery(ctx, scopeThingsDB, fmt.Sprintf("has_token(%q);", key), timeout)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

// --- Node / cluster scope ---

func (c *Client) NodeInfo(ctx context.Context, timeout time.Duration) (any, error) {
	return c.adminQuery(ctx, scopeNode, "node_info();", timeout)
}

func (c *Client) NodesInfo(ctx context.Context, timeout time.Duration) (any, error) {
	return c.adminQuery(ctx, scopeNode, "nodes_info();", timeout)
}

func (c *Client) Counters(ctx context.Context, timeout time.Duration) (any, error) {
	return c.adminQuery(ctx, scopeNode, "counters();", timeout)
}

func (c *Client) ResetCounters(ctx context.Context, timeout time.Duration) (any, error) {
	return c.adminQuery(ctx, scopeNode, "reset_counters();", timeout)
}

func (c *Client) SetLogLevel(ctx context.Context, level string, timeout time.Duration) (any, error) {
	return c.adminQuery(ctx, scopeNode, fmt.Sprintf("set_log_level(%q);", level), timeout)
}

func (c *Client) Shutdown(ctx context.Context, timeout time.Duration) (any, error) {
	return c.adminQuery(ctx, scopeNode, "shutdown();", timeout)
}

func (c *Client) DelExpired(ctx context.Context, timeout time.Duration) (any, error) {
	return c.adminQuery(ctx, scopeThingsDB, "del_expired();", timeout)
}
