package email_tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/dispatch"
	"github.com/teemow/clawmail/internal/instrumentation"
	"github.com/teemow/clawmail/internal/mail"
	"github.com/teemow/clawmail/internal/tools/common"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Mailer runs mail operations against an account.
type Mailer interface {
	Read(ctx context.Context, identifier string, limit int, filter string) ([]mail.Message, error)
	Search(ctx context.Context, identifier, query string, limit int) ([]mail.Message, error)
	Send(ctx context.Context, identifier, to, subject, body, htmlBody string) (*dispatch.SendResult, error)
	MarkRead(ctx context.Context, identifier, id string) error
}

// Directory describes the ready accounts.
type Directory interface {
	common.Directory
	Descriptor(id string) (account.Descriptor, bool)
}

// Deps are the collaborators of the email tools.
type Deps struct {
	Mailer    Mailer
	Directory Directory
	Metrics   *instrumentation.Metrics
}

// RegisterEmailTools registers the email tools with the MCP server. In
// read-only mode email_send and email_mark_read are not registered.
func RegisterEmailTools(s *mcpserver.MCPServer, deps Deps, readOnly bool) error {
	if deps.Mailer == nil || deps.Directory == nil {
		return errors.New("email tools need a mailer and an account directory")
	}

	accountArg := mcp.WithString("account",
		mcp.Description("Account id (e.g. 'account1') or provider name ('gmail', 'outlook'). Optional when only one account is configured."),
	)

	accountsTool := mcp.NewTool("email_accounts",
		mcp.WithDescription("List the email accounts that are authenticated and ready"),
	)
	s.AddTool(accountsTool, common.InstrumentedToolHandler("email_accounts", deps.Metrics, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleAccounts(deps)
	}))

	readTool := mcp.NewTool("email_read",
		mcp.WithDescription("Read the most recent emails of an account, newest first"),
		accountArg,
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum number of emails to return (default: %d, max: %d)", defaultLimit, maxLimit)),
		),
		mcp.WithString("filter",
			mcp.Description("Provider filter passed through unchanged: Gmail search syntax (e.g. 'is:unread') or an Outlook search expression"),
		),
	)
	s.AddTool(readTool, common.InstrumentedToolHandler("email_read", deps.Metrics, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleRead(ctx, request, deps)
	}))

	searchTool := mcp.NewTool("email_search",
		mcp.WithDescription("Search the emails of an account"),
		accountArg,
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query in the provider's syntax"),
		),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum number of emails to return (default: %d, max: %d)", defaultLimit, maxLimit)),
		),
	)
	s.AddTool(searchTool, common.InstrumentedToolHandler("email_search", deps.Metrics, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleSearch(ctx, request, deps)
	}))

	if readOnly {
		return nil
	}

	sendTool := mcp.NewTool("email_send",
		mcp.WithDescription("Send an email from an account"),
		accountArg,
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Recipient email address(es), comma-separated for multiple recipients"),
		),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Email subject"),
		),
		mcp.WithString("body",
			mcp.Description("Plain text body"),
		),
		mcp.WithString("html",
			mcp.Description("HTML body; a plain text alternative is derived when body is empty"),
		),
	)
	s.AddTool(sendTool, common.InstrumentedToolHandler("email_send", deps.Metrics, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleSend(ctx, request, deps)
	}))

	markReadTool := mcp.NewTool("email_mark_read",
		mcp.WithDescription("Mark an email as read"),
		accountArg,
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Message id as returned by email_read or email_search"),
		),
	)
	s.AddTool(markReadTool, common.InstrumentedToolHandler("email_mark_read", deps.Metrics, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleMarkRead(ctx, request, deps)
	}))

	return nil
}

type accountInfo struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
}

func handleAccounts(deps Deps) (*mcp.CallToolResult, error) {
	infos := []accountInfo{}
	for _, id := range deps.Directory.Accounts() {
		d, ok := deps.Directory.Descriptor(id)
		if !ok {
			continue
		}
		infos = append(infos, accountInfo{ID: d.ID, Provider: d.Kind.String()})
	}
	return jsonResult(infos)
}

func handleRead(ctx context.Context, request mcp.CallToolRequest, deps Deps) (*mcp.CallToolResult, error) {
	id, errResult := selectAccount(request, deps)
	if errResult != nil {
		return errResult, nil
	}
	limit, errResult := limitArg(request)
	if errResult != nil {
		return errResult, nil
	}

	msgs, err := deps.Mailer.Read(ctx, id, limit, request.GetString("filter", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read emails from %s: %v", id, err)), nil
	}
	return jsonResult(msgs)
}

func handleSearch(ctx context.Context, request mcp.CallToolRequest, deps Deps) (*mcp.CallToolResult, error) {
	id, errResult := selectAccount(request, deps)
	if errResult != nil {
		return errResult, nil
	}
	query := request.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' field is required"), nil
	}
	limit, errResult := limitArg(request)
	if errResult != nil {
		return errResult, nil
	}

	msgs, err := deps.Mailer.Search(ctx, id, query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to search emails of %s: %v", id, err)), nil
	}
	return jsonResult(msgs)
}

func handleSend(ctx context.Context, request mcp.CallToolRequest, deps Deps) (*mcp.CallToolResult, error) {
	id, errResult := selectAccount(request, deps)
	if errResult != nil {
		return errResult, nil
	}

	to := common.SplitList(request.GetString("to", ""))
	if len(to) == 0 {
		return mcp.NewToolResultError("'to' field is required"), nil
	}
	subject := request.GetString("subject", "")
	if subject == "" {
		return mcp.NewToolResultError("'subject' field is required"), nil
	}
	body := request.GetString("body", "")
	html := request.GetString("html", "")
	if body == "" && html == "" {
		return mcp.NewToolResultError("either 'body' or 'html' is required"), nil
	}

	res, err := deps.Mailer.Send(ctx, id, strings.Join(to, ", "), subject, body, html)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to send email from %s: %v", id, err)), nil
	}
	if !res.OK {
		return mcp.NewToolResultError(fmt.Sprintf("The provider rejected the email: %s", res.Error)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Email sent successfully!\nAccount: %s\nMessage ID: %s\nTo: %s\nSubject: %s",
		res.Account, res.MessageID, strings.Join(to, ", "), subject)), nil
}

func handleMarkRead(ctx context.Context, request mcp.CallToolRequest, deps Deps) (*mcp.CallToolResult, error) {
	id, errResult := selectAccount(request, deps)
	if errResult != nil {
		return errResult, nil
	}
	msgID := strings.TrimSpace(request.GetString("id", ""))
	if msgID == "" {
		return mcp.NewToolResultError("'id' field is required"), nil
	}

	if err := deps.Mailer.MarkRead(ctx, id, msgID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to mark email %s as read in %s: %v", msgID, id, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Email %s marked as read in %s", msgID, id)), nil
}

func selectAccount(request mcp.CallToolRequest, deps Deps) (string, *mcp.CallToolResult) {
	id, ok := common.SelectAccount(request.GetArguments(), deps.Directory)
	if !ok {
		return "", mcp.NewToolResultError(fmt.Sprintf("'account' is required; ready accounts: %v", deps.Directory.Accounts()))
	}
	return id, nil
}

func limitArg(request mcp.CallToolRequest) (int, *mcp.CallToolResult) {
	limit := request.GetInt("limit", defaultLimit)
	switch {
	case limit <= 0:
		return 0, mcp.NewToolResultError("'limit' must be greater than zero")
	case limit > maxLimit:
		limit = maxLimit
	}
	return limit, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
