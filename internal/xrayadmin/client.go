// Package xrayadmin is a hand-written client for Xray-core's HandlerService/StatsService gRPC admin API. No
// .proto-generated stubs ship in this repository, so calls go through grpc.ClientConn.Invoke directly against the
// well-known Xray method names, the same way an external adapter with only a method contract (no local schema) is
// consumed elsewhere in the fleet (§9).
package xrayadmin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ponyfleet/ponyd/internal/ident"
)

const (
	methodAddInbound   = "/xray.app.proxyman.command.HandlerService/AlterInbound"
	methodRemoveUser   = "/xray.app.proxyman.command.HandlerService/AlterInbound"
	methodGetUserStats = "/xray.app.stats.command.StatsService/GetStats"
	methodQueryStats   = "/xray.app.stats.command.StatsService/QueryStats"
	defaultCallTimeout = 3 * time.Second
)

// Stats mirrors the uplink/downlink counters Xray's StatsService reports per user tag.
type Stats struct {
	Uplink   int64
	Downlink int64
}

// Client administers inbound user sets on a single Xray instance over gRPC.
type Client struct {
	conn *grpc.ClientConn
}

// Dial opens a connection to an Xray instance's gRPC admin API. Xray's admin API is loopback-only by convention so
// plaintext transport credentials are used, matching the POC gRPC clients elsewhere in the corpus
// (ashureev-shsh-labs's GrpcClient).
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("xrayadmin: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// AddUser grants a connection's identity (by its xray tag and conn id) access to the named inbound. The request and
// response messages are opaque to this client: Xray's AlterInboundRequest/Response are sent/received as raw bytes
// via a generic codec-free Invoke, since the protobuf message types are not vendored here.
func (c *Client) AddUser(ctx context.Context, inboundTag string, connID ident.ID, password string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()

	req := addUserRequest{InboundTag: inboundTag, Email: connID.String(), Password: password}
	var resp struct{}
	if err := c.conn.Invoke(ctx, methodAddInbound, req, &resp); err != nil {
		return fmt.Errorf("xrayadmin: add user %s on %s: %w", connID, inboundTag, err)
	}
	return nil
}

// RemoveUser revokes a connection's access. Idempotent: Xray returns success for an already-absent user, and this
// client treats any error here as a warning the caller may retry per §4.5's backoff policy rather than a hard
// failure, since Xray's exact error shape for "not found" is not modeled.
func (c *Client) RemoveUser(ctx context.Context, inboundTag string, connID ident.ID) error {
	ctx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()

	req := removeUserRequest{InboundTag: inboundTag, Email: connID.String()}
	var resp struct{}
	if err := c.conn.Invoke(ctx, methodRemoveUser, req, &resp); err != nil {
		return fmt.Errorf("xrayadmin: remove user %s from %s: %w", connID, inboundTag, err)
	}
	return nil
}

// GetUserStats reads a user's cumulative uplink/downlink counters. Xray's StatsService reports each direction as a
// separate named counter, so this issues one GetStats call per direction.
func (c *Client) GetUserStats(ctx context.Context, connID ident.ID, reset bool) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()

	base := "user>>>" + connID.String() + ">>>traffic>>>"
	uplink, err := c.getStat(ctx, base+"uplink", reset)
	if err != nil {
		return Stats{}, fmt.Errorf("xrayadmin: get uplink stat for %s: %w", connID, err)
	}
	downlink, err := c.getStat(ctx, base+"downlink", reset)
	if err != nil {
		return Stats{}, fmt.Errorf("xrayadmin: get downlink stat for %s: %w", connID, err)
	}
	return Stats{Uplink: uplink, Downlink: downlink}, nil
}

func (c *Client) getStat(ctx context.Context, name string, reset bool) (int64, error) {
	req := getStatsRequest{Name: name, Reset_: reset}
	var resp getStatsResponse
	if err := c.conn.Invoke(ctx, methodGetUserStats, req, &resp); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// ListUsers enumerates every email tag Xray currently reports traffic counters for. Xray's stat namespace isn't
// scoped per inbound tag, so this lists across the whole instance rather than per inbound.
func (c *Client) ListUsers(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()

	req := queryStatsRequest{Pattern: "user>>>", Reset_: false}
	var resp queryStatsResponse
	if err := c.conn.Invoke(ctx, methodQueryStats, req, &resp); err != nil {
		return nil, fmt.Errorf("xrayadmin: list users: %w", err)
	}
	seen := make(map[string]struct{}, len(resp.Stats))
	var emails []string
	for _, s := range resp.Stats {
		email := parseStatEmail(s.Name)
		if email == "" {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		emails = append(emails, email)
	}
	return emails, nil
}

// parseStatEmail extracts the email segment out of a "user>>>EMAIL>>>traffic>>>DIRECTION" stat name.
func parseStatEmail(name string) string {
	const prefix = "user>>>"
	const sep = ">>>traffic>>>"
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok {
		return ""
	}
	email, _, ok := strings.Cut(rest, sep)
	if !ok {
		return ""
	}
	return email
}

// addUserRequest/removeUserRequest/getStatsRequest/getStatsResponse stand in for Xray's actual protobuf messages,
// which are not vendored in this repository. Dial registers a codec for these types (see codec.go) so Invoke can
// serialize them without the real .proto-generated stubs.
type addUserRequest struct {
	InboundTag string
	Email      string
	Password   string
}

type removeUserRequest struct {
	InboundTag string
	Email      string
}

type getStatsRequest struct {
	Name   string
	Reset_ bool
}

type getStatsResponse struct {
	Name  string
	Value int64
}

type queryStatsRequest struct {
	Pattern string
	Reset_  bool
}

type queryStatsResponse struct {
	Stats []getStatsResponse
}
