package hub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent(t *testing.T) {
	event, err := ParseEvent([]byte(`{"event":"code-change","roomId":"abc","code":"x"}`))
	assert.NoError(t, err)
	assert.Equal(t, EvtCodeChange, event)

	_, err = ParseEvent([]byte(`{"roomId":"abc"}`))
	assert.Error(t, err, "缺少事件名应报错")

	_, err = ParseEvent([]byte(`not-json`))
	assert.Error(t, err, "畸形 JSON 应报错")
}

func TestJoinPayload_Validate(t *testing.T) {
	var p joinPayload
	err := decodePayload([]byte(`{"event":"join","roomId":"r1","username":"Alice","sessionId":"s1"}`), &p)
	require.NoError(t, err)
	assert.Equal(t, "r1", p.RoomID)
	assert.Equal(t, "Alice", p.Username)
	assert.Equal(t, "s1", p.SessionID)

	var missing joinPayload
	err = decodePayload([]byte(`{"event":"join","roomId":"r1","username":"Alice"}`), &missing)
	assert.Error(t, err, "缺少 sessionId 应被拒绝")
}

func TestCursorMovePayload_Validate(t *testing.T) {
	var p cursorMovePayload
	err := decodePayload([]byte(`{"event":"cursor-move","roomId":"r1","username":"Alice","cursor":{"line":3,"ch":0}}`), &p)
	require.NoError(t, err)
	assert.Equal(t, 3, *p.Cursor.Line)
	assert.Equal(t, 0, *p.Cursor.Ch)

	// line/ch 必须同时存在且是数字
	var missingCh cursorMovePayload
	err = decodePayload([]byte(`{"event":"cursor-move","roomId":"r1","username":"Alice","cursor":{"line":3}}`), &missingCh)
	assert.Error(t, err, "缺少 ch 应被拒绝")

	var nonNumeric cursorMovePayload
	err = decodePayload([]byte(`{"event":"cursor-move","roomId":"r1","username":"Alice","cursor":{"line":"x","ch":0}}`), &nonNumeric)
	assert.Error(t, err, "非数字 line 应被拒绝")

	var negative cursorMovePayload
	err = decodePayload([]byte(`{"event":"cursor-move","roomId":"r1","username":"Alice","cursor":{"line":-1,"ch":0}}`), &negative)
	assert.Error(t, err, "负数位置应被拒绝")
}

func TestUpdateRolePayload_Validate(t *testing.T) {
	var p updateRolePayload
	err := decodePayload([]byte(`{"event":"update-role","roomId":"r1","targetSocketId":"sock1","newRole":"viewer"}`), &p)
	assert.NoError(t, err)

	var invalid updateRolePayload
	err = decodePayload([]byte(`{"event":"update-role","roomId":"r1","targetSocketId":"sock1","newRole":"admin"}`), &invalid)
	assert.Error(t, err, "未知角色应被拒绝")
}

func TestMarshalEvent(t *testing.T) {
	raw := marshalEvent(EvtUserTyping, map[string]interface{}{"username": "Bob"})

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, EvtUserTyping, decoded["event"], "事件名应平铺在载荷旁")
	assert.Equal(t, "Bob", decoded["username"])
}

func TestMentionPattern(t *testing.T) {
	matches := mentionPattern.FindAllStringSubmatch("hello @Bob and @bob, also @Carol!", -1)
	require.Len(t, matches, 3)
	assert.Equal(t, "Bob", matches[0][1])
	assert.Equal(t, "bob", matches[1][1])
	assert.Equal(t, "Carol", matches[2][1])

	assert.Nil(t, mentionPattern.FindAllStringSubmatch("no mentions here", -1))
}
