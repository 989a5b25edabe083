package state_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/jhgg/discordstate/pkg/feed"
	"github.com/jhgg/discordstate/pkg/permission"
	"github.com/jhgg/discordstate/pkg/snowflake"
	"github.com/jhgg/discordstate/pkg/state"
)

// Fixture graph: one server with an owner, a role-holding member, and a
// bare member, plus a text and a voice channel.
const (
	serverID    snowflake.ID = 100
	roleModID   snowflake.ID = 201
	chanGeneral snowflake.ID = 301
	chanLounge  snowflake.ID = 302

	ownerID snowflake.ID = 1
	aliceID snowflake.ID = 2
	bobID   snowflake.ID = 3
)

func ptr[T any](v T) *T { return &v }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRegistry(t *testing.T) *state.Registry {
	t.Helper()
	return state.New(state.Options{Logger: quietLogger()})
}

func baseServer() *feed.ServerInfo {
	readSend := permission.Mask(permission.ReadMessages, permission.SendMessages)
	return &feed.ServerInfo{
		ID:      serverID,
		Name:    ptr("hub"),
		OwnerID: ptr(ownerID),
		Roles: []feed.RoleInfo{
			{ServerID: serverID, ID: serverID, Name: ptr("everyone"), Permissions: ptr(uint64(0))},
			{ServerID: serverID, ID: roleModID, Name: ptr("regular"), Permissions: ptr(readSend)},
		},
		Channels: []feed.ChannelInfo{
			{ID: chanGeneral, ServerID: serverID, Kind: ptr(feed.ChannelText), Name: ptr("general")},
			{ID: chanLounge, ServerID: serverID, Kind: ptr(feed.ChannelVoice), Name: ptr("lounge")},
		},
		Members: []feed.MemberInfo{
			{ServerID: serverID, User: &feed.UserReference{ID: ownerID, Username: ptr("owner")}},
			{ServerID: serverID, User: &feed.UserReference{ID: aliceID, Username: ptr("alice")}, Roles: []snowflake.ID{roleModID}},
			{ServerID: serverID, User: &feed.UserReference{ID: bobID, Username: ptr("bob")}},
		},
	}
}

func mustApply(t *testing.T, r *state.Registry, evt *feed.Event) {
	t.Helper()
	if err := r.Apply(evt); err != nil {
		t.Fatalf("Apply(%s): unexpected error: %v", evt.Kind(), err)
	}
}

func syncBase(t *testing.T, r *state.Registry) {
	t.Helper()
	mustApply(t, r, &feed.Event{ServerCreate: baseServer()})
}

func member(t *testing.T, r *state.Registry, id snowflake.ID) *state.User {
	t.Helper()
	u := r.Member(serverID, id)
	if u == nil {
		t.Fatalf("member %d not in registry", id)
	}
	return u
}

func channelBits(t *testing.T, u *state.User, c *state.Channel) uint64 {
	t.Helper()
	perms, err := u.ChannelPermissions(c)
	if err != nil {
		t.Fatalf("ChannelPermissions(%d): unexpected error: %v", c.ID(), err)
	}
	if perms == nil {
		t.Fatalf("ChannelPermissions(%d): channel unknown to user %d", c.ID(), u.ID())
	}
	return perms.Raw()
}

func TestOwnerAlwaysFullMask(t *testing.T) {
	r := newRegistry(t)
	syncBase(t, r)
	owner := member(t, r, ownerID)

	if got := owner.ServerPermissions(); got != permission.AllServer {
		t.Fatalf("owner server permissions = %#x, want %#x", got.Raw(), permission.AllServer.Raw())
	}
	if got := channelBits(t, owner, r.Channel(chanGeneral)); got != permission.AllText.Raw() {
		t.Errorf("owner text channel = %#x, want %#x", got, permission.AllText.Raw())
	}
	if got := channelBits(t, owner, r.Channel(chanLounge)); got != permission.AllVoice.Raw() {
		t.Errorf("owner voice channel = %#x, want %#x", got, permission.AllVoice.Raw())
	}
}

func TestRoleUnionResolution(t *testing.T) {
	r := newRegistry(t)
	syncBase(t, r)
	alice := member(t, r, aliceID)

	want := permission.Mask(permission.ReadMessages, permission.SendMessages)
	if got := alice.ServerPermissions().Raw(); got != want {
		t.Fatalf("alice server permissions = %#x, want %#x", got, want)
	}
	if got := channelBits(t, alice, r.Channel(chanGeneral)); got != want {
		t.Errorf("alice general = %#x, want %#x", got, want)
	}
	// Send is not a voice bit; only visibility survives the clamp.
	if got := channelBits(t, alice, r.Channel(chanLounge)); got != permission.Mask(permission.ReadMessages) {
		t.Errorf("alice lounge = %#x, want %#x", got, permission.Mask(permission.ReadMessages))
	}
}

func TestNoRolesNoVisibility(t *testing.T) {
	r := newRegistry(t)
	syncBase(t, r)
	bob := member(t, r, bobID)

	if got := bob.ServerPermissions().Raw(); got != 0 {
		t.Fatalf("bob server permissions = %#x, want 0", got)
	}
	if got := channelBits(t, bob, r.Channel(chanGeneral)); got != 0 {
		t.Errorf("bob general = %#x, want 0", got)
	}
	if got := bob.VisibleChannels(); len(got) != 0 {
		t.Errorf("bob sees %d channels, want 0", len(got))
	}
}

func TestManageRolesEscalatesEverywhere(t *testing.T) {
	r := newRegistry(t)
	syncBase(t, r)

	mustApply(t, r, &feed.Event{RoleUpdate: &feed.RoleInfo{
		ServerID:    serverID,
		ID:          roleModID,
		Permissions: ptr(permission.Mask(permission.ManageRolesOrPermissions)),
	}})

	alice := member(t, r, aliceID)
	if got := alice.ServerPermissions(); got != permission.AllServer {
		t.Fatalf("alice server permissions = %#x, want full mask %#x", got.Raw(), permission.AllServer.Raw())
	}
	if got := channelBits(t, alice, r.Channel(chanGeneral)); got != permission.AllText.Raw() {
		t.Errorf("alice general = %#x, want %#x", got, permission.AllText.Raw())
	}
	if got := channelBits(t, alice, r.Channel(chanLounge)); got != permission.AllVoice.Raw() {
		t.Errorf("alice lounge = %#x, want %#x", got, permission.AllVoice.Raw())
	}

	// Holders of other roles are untouched.
	if got := member(t, r, bobID).ServerPermissions().Raw(); got != 0 {
		t.Errorf("bob server permissions = %#x, want 0", got)
	}
}

func TestRoleOverwriteDeny(t *testing.T) {
	r := newRegistry(t)
	syncBase(t, r)

	mustApply(t, r, &feed.Event{ChannelUpdate: &feed.ChannelInfo{
		ID:       chanGeneral,
		ServerID: serverID,
		Overwrites: []feed.OverwriteInfo{
			{TargetID: roleModID, Type: feed.OverwriteRole, Deny: permission.Mask(permission.SendMessages)},
		},
	}})

	alice := member(t, r, aliceID)
	got := permission.Channel(channelBits(t, alice, r.Channel(chanGeneral)))
	if !got.ReadMessages() {
		t.Errorf("ReadMessages cleared, want set")
	}
	if got.SendMessages() {
		t.Errorf("SendMessages set, want cleared by role overwrite")
	}
}

func TestUserOverwriteBeatsRoleOverwrite(t *testing.T) {
	roleDeny := feed.OverwriteInfo{TargetID: roleModID, Type: feed.OverwriteRole, Deny: permission.Mask(permission.SendMessages)}
	userAllow := feed.OverwriteInfo{TargetID: aliceID, Type: feed.OverwriteMember, Allow: permission.Mask(permission.SendMessages)}

	tests := []struct {
		name       string
		overwrites []feed.OverwriteInfo
	}{
		{"role first", []feed.OverwriteInfo{roleDeny, userAllow}},
		{"user first", []feed.OverwriteInfo{userAllow, roleDeny}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistry(t)
			syncBase(t, r)
			mustApply(t, r, &feed.Event{ChannelUpdate: &feed.ChannelInfo{
				ID:         chanGeneral,
				ServerID:   serverID,
				Overwrites: tt.overwrites,
			}})

			got := permission.Channel(channelBits(t, member(t, r, aliceID), r.Channel(chanGeneral)))
			if !got.SendMessages() {
				t.Errorf("SendMessages cleared, want user allow to win over role deny")
			}
		})
	}
}

func TestReadClearForcesNone(t *testing.T) {
	r := newRegistry(t)
	syncBase(t, r)

	// Denying visibility wipes the result even though an allow is present.
	mustApply(t, r, &feed.Event{ChannelUpdate: &feed.ChannelInfo{
		ID:       chanGeneral,
		ServerID: serverID,
		Overwrites: []feed.OverwriteInfo{
			{TargetID: roleModID, Type: feed.OverwriteRole, Deny: permission.Mask(permission.ReadMessages)},
			{TargetID: roleModID, Type: feed.OverwriteRole, Allow: permission.Mask(permission.MentionEveryone)},
		},
	}})

	if got := channelBits(t, member(t, r, aliceID), r.Channel(chanGeneral)); got != 0 {
		t.Fatalf("alice general = %#x, want none", got)
	}
}

func TestResolutionIdempotent(t *testing.T) {
	r := newRegistry(t)
	syncBase(t, r)
	m := r.Metrics()

	update := &feed.Event{MemberUpdate: &feed.ExtendedMemberInfo{
		MemberInfo: feed.MemberInfo{
			ServerID: serverID,
			User:     &feed.UserReference{ID: aliceID},
			Roles:    []snowflake.ID{roleModID},
		},
	}}
	mustApply(t, r, update)

	serverBefore := m.ServerRecomputes.Load()
	channelBefore := m.ChannelRecomputes.Load()
	shortBefore := m.ShortCircuits.Load()

	mustApply(t, r, update)

	if got := m.ServerRecomputes.Load(); got != serverBefore {
		t.Errorf("server recomputes advanced %d -> %d on unchanged input", serverBefore, got)
	}
	if got := m.ChannelRecomputes.Load(); got != channelBefore {
		t.Errorf("channel recomputes advanced %d -> %d on unchanged input", channelBefore, got)
	}
	if got := m.ShortCircuits.Load(); got <= shortBefore {
		t.Errorf("short circuits did not advance, got %d", got)
	}
}

func TestLosingVisibilityCollapsesAndInvalidates(t *testing.T) {
	r := newRegistry(t)
	invalidated := make(map[snowflake.ID]int)
	r.OnChannelInvalidate = func(c *state.Channel) { invalidated[c.ID()]++ }
	syncBase(t, r)
	alice := member(t, r, aliceID)

	if got := len(alice.VisibleChannels()); got != 2 {
		t.Fatalf("alice sees %d channels before losing roles, want 2", got)
	}
	clear(invalidated)

	// Stripping all explicit roles leaves only the zero-bit everyone role.
	mustApply(t, r, &feed.Event{MemberUpdate: &feed.ExtendedMemberInfo{
		MemberInfo: feed.MemberInfo{
			ServerID: serverID,
			User:     &feed.UserReference{ID: aliceID},
			Roles:    []snowflake.ID{},
		},
	}})

	if got := channelBits(t, alice, r.Channel(chanGeneral)); got != 0 {
		t.Errorf("alice general = %#x after losing roles, want none", got)
	}
	if got := len(alice.VisibleChannels()); got != 0 {
		t.Errorf("alice sees %d channels after losing roles, want 0", got)
	}
	if invalidated[chanGeneral] != 1 || invalidated[chanLounge] != 1 {
		t.Errorf("invalidations = %v, want exactly one for each channel", invalidated)
	}

	for _, u := range r.Channel(chanGeneral).Members() {
		if u.ID() == aliceID {
			t.Errorf("alice still listed in channel members after losing visibility")
		}
	}
}

func TestVoiceMoveInvalidationOrder(t *testing.T) {
	r := newRegistry(t)
	var order []snowflake.ID
	r.OnChannelInvalidate = func(c *state.Channel) { order = append(order, c.ID()) }
	syncBase(t, r)

	voice := &feed.ChannelInfo{ID: 303, ServerID: serverID, Kind: ptr(feed.ChannelVoice), Name: ptr("afk")}
	mustApply(t, r, &feed.Event{ChannelCreate: voice})

	mustApply(t, r, &feed.Event{VoiceStateUpdate: &feed.VoiceMemberInfo{
		ServerID:  serverID,
		UserID:    aliceID,
		ChannelID: feed.Set(chanLounge),
		SessionID: ptr("sess-1"),
	}})

	order = nil
	mustApply(t, r, &feed.Event{VoiceStateUpdate: &feed.VoiceMemberInfo{
		ServerID:  serverID,
		UserID:    aliceID,
		ChannelID: feed.Set(snowflake.ID(303)),
	}})

	want := []snowflake.ID{chanLounge, 303}
	if len(order) != 2 || order[0] != want[0] || order[1] != want[1] {
		t.Fatalf("invalidation order = %v, want %v", order, want)
	}
	if got := member(t, r, aliceID).VoiceChannelID(); got != 303 {
		t.Errorf("alice voice channel = %d, want 303", got)
	}
}

func TestQueryArgumentErrors(t *testing.T) {
	r := newRegistry(t)
	syncBase(t, r)
	alice := member(t, r, aliceID)

	if _, err := alice.ChannelPermissions(nil); err != state.ErrNilChannel {
		t.Errorf("ChannelPermissions(nil) error = %v, want ErrNilChannel", err)
	}
	if _, err := alice.HasRole(nil); err != state.ErrNilRole {
		t.Errorf("HasRole(nil) error = %v, want ErrNilRole", err)
	}
	if err := r.Apply(nil); err != state.ErrNilEvent {
		t.Errorf("Apply(nil) error = %v, want ErrNilEvent", err)
	}
}

func TestHasRoleAndEveryone(t *testing.T) {
	r := newRegistry(t)
	syncBase(t, r)
	alice := member(t, r, aliceID)

	everyone := r.Server(serverID).EveryoneRole()
	if everyone == nil {
		t.Fatal("everyone role missing")
	}
	if ok, _ := alice.HasRole(everyone); !ok {
		t.Errorf("alice does not hold the everyone role")
	}
	if ok, _ := alice.HasRole(r.Role(roleModID)); !ok {
		t.Errorf("alice does not hold her assigned role")
	}

	// One explicit role plus the implicit everyone, never duplicated.
	if got := len(alice.Roles()); got != 2 {
		t.Errorf("alice holds %d roles, want 2", got)
	}

	// Re-sending the same list, everyone included, changes nothing.
	mustApply(t, r, &feed.Event{MemberUpdate: &feed.ExtendedMemberInfo{
		MemberInfo: feed.MemberInfo{
			ServerID: serverID,
			User:     &feed.UserReference{ID: aliceID},
			Roles:    []snowflake.ID{roleModID, serverID},
		},
	}})
	if got := len(alice.Roles()); got != 2 {
		t.Errorf("alice holds %d roles after resend, want 2", got)
	}
}

func TestUnknownChannelIsNotAnError(t *testing.T) {
	r := newRegistry(t)
	syncBase(t, r)

	other := &feed.ChannelInfo{ID: 999, ServerID: 900, Kind: ptr(feed.ChannelText)}
	mustApply(t, r, &feed.Event{ChannelCreate: other})

	perms, err := member(t, r, aliceID).ChannelPermissions(r.Channel(999))
	if err != nil {
		t.Fatalf("ChannelPermissions for foreign channel: unexpected error: %v", err)
	}
	if perms != nil {
		t.Fatalf("ChannelPermissions for foreign channel = %#x, want nil", perms.Raw())
	}
}
