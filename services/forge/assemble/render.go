// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assemble

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
	"github.com/Buycar-arb/ToolForge/services/forge/reasoning"
	"github.com/Buycar-arb/ToolForge/services/forge/record"
	"github.com/Buycar-arb/ToolForge/services/forge/toolbank"
)

var fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n```")

type renderedConversation struct {
	Messages []datatypes.Message `json:"messages"`
}

// ParseRendered extracts the conversation body from a render reply.
//
// Description:
//
//	The reply must contain a ```json fenced block holding an object with a
//	"messages" array. User-role messages are dropped because the transcript
//	head already carries the question.
//
// Outputs:
//
//	[]datatypes.Message - Assistant and tool messages in order.
//	error - Wraps ErrRenderParse.
func ParseRendered(reply string) ([]datatypes.Message, error) {
	m := fencedJSONPattern.FindStringSubmatch(reply)
	if m == nil {
		return nil, fmt.Errorf("%w: no fenced json block", ErrRenderParse)
	}
	var conv renderedConversation
	if err := json.Unmarshal([]byte(m[1]), &conv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderParse, err)
	}
	if conv.Messages == nil {
		return nil, fmt.Errorf("%w: missing messages array", ErrRenderParse)
	}
	out := make([]datatypes.Message, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		if msg.Role == datatypes.RoleUser {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// BuildArgumentCheck groups the tool calls of every non-final assistant
// message.
//
// Description:
//
//	Assistant messages are counted from 1. Messages with no <tool_call>
//	block produce no group. Each call carries the definition of the tool it
//	names, looked up in the shown set first and then the whole bank; the
//	definition is null when the name is unknown.
//
// Outputs:
//
//	[]record.ArgumentGroup - Groups in transcript order.
//	error - Wraps ErrRenderParse when a call is not valid JSON.
func BuildArgumentCheck(messages []datatypes.Message, shown []toolbank.ToolDefinition,
	snap *toolbank.Snapshot) ([]record.ArgumentGroup, error) {

	var assistants []datatypes.Message
	for _, msg := range messages {
		if msg.Role == datatypes.RoleAssistant {
			assistants = append(assistants, msg)
		}
	}

	groups := []record.ArgumentGroup{}
	for i := 0; i+1 < len(assistants); i++ {
		blocks := reasoning.ExtractTags(assistants[i].Content, "tool_call")
		if len(blocks) == 0 {
			continue
		}
		group := record.ArgumentGroup{AssistantIndex: i + 1}
		for j, block := range blocks {
			call, err := toolbank.ParseToolCall(strings.TrimSpace(block))
			if err != nil {
				return nil, fmt.Errorf("%w: assistant %d call %d: %v", ErrRenderParse, i+1, j, err)
			}
			args, err := call.ArgumentMap()
			if err != nil {
				return nil, fmt.Errorf("%w: assistant %d call %d: %v", ErrRenderParse, i+1, j, err)
			}
			obj := record.ToolCallObject{Name: call.Name, Arguments: args}
			if def, ok := lookupDefinition(snap, call.Name, shown); ok {
				obj.ToolDefinition = &def
			}
			group.Objects = append(group.Objects, obj)
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func lookupDefinition(snap *toolbank.Snapshot, name string, shown []toolbank.ToolDefinition) (toolbank.ToolDefinition, bool) {
	if snap == nil {
		for _, def := range shown {
			if def.Name == name {
				return def, true
			}
		}
		return toolbank.ToolDefinition{}, false
	}
	return snap.Lookup(name, shown)
}
