package gateway

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/penguin-run/penguin/pkg/core"
)

func TestConvertBedrockMessagesDropsSystemAndEmpty(t *testing.T) {
	in := []core.ChatMessage{
		{Role: core.RoleSystem, Content: "be terse"},
		{Role: core.RoleUser, Content: "hi"},
		{Role: core.RoleAssistant, Content: "hello"},
		{Role: core.RoleUser, Content: "   "},
	}

	out := convertBedrockMessages(in)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].Role != types.ConversationRoleUser {
		t.Fatalf("out[0].Role = %v, want user", out[0].Role)
	}
	if out[1].Role != types.ConversationRoleAssistant {
		t.Fatalf("out[1].Role = %v, want assistant", out[1].Role)
	}
	block, ok := out[0].Content[0].(*types.ContentBlockMemberText)
	if !ok || block.Value != "hi" {
		t.Fatalf("out[0].Content[0] = %+v, want text block %q", out[0].Content[0], "hi")
	}
}
