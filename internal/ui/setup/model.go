// Package setup is the interactive first-run form: it collects mailbox,
// printer and notification settings, checks the mailbox login and writes
// the config file and keyring entries.
package setup

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/nhle/mailprint/internal/credential"
	"github.com/nhle/mailprint/internal/model"
	"github.com/nhle/mailprint/internal/theme"
)

// validateTimeout bounds the mailbox login check.
const validateTimeout = 30 * time.Second

// Mode represents the current state of the setup view.
type Mode int

const (
	ModeForm           Mode = iota // Filling in the form
	ModeValidating                 // Testing the mailbox login
	ModeValidateResult             // Login failed; retry, save anyway or quit
	ModeDone                       // Config written
)

// Validator checks mailbox credentials and returns the authenticated user.
type Validator func(ctx context.Context, cfg model.MailboxConfig) (string, error)

// Secrets are the passwords entered in the form.
type Secrets struct {
	Mailbox string
	SMTP    string
}

// validateResultMsg carries the result of a login attempt.
type validateResultMsg struct {
	name string
	err  error
}

// savedMsg is sent after the config and secrets were written.
type savedMsg struct {
	err error
}

// Model is the Bubble Tea model for the setup form.
type Model struct {
	mode     Mode
	path     string
	base     model.AppConfig
	validate Validator
	save     func(path string, cfg *model.AppConfig, s Secrets) error

	form    *huh.Form
	spinner spinner.Model

	// Form field values (huh binds to these)
	formHost     string
	formPort     string
	formTLS      bool
	formUsername string
	formPassword string
	formFolder   string
	formDownload string
	formPrinter  string
	formDryRun   bool
	formNotify   bool
	formSMTPHost string
	formSMTPPort string
	formSMTPUser string
	formSMTPPass string
	formFrom     string
	formTo       string

	validUser string
	err       error
	saveErr   error

	width, height int
}

// New creates a setup form pre-filled from base. Validated settings are
// written to path.
func New(path string, base model.AppConfig, validate Validator) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := &Model{
		path:     path,
		base:     base,
		validate: validate,
		save:     save,
		spinner:  sp,
	}
	m.fill(base)
	m.form = m.buildForm()
	return m
}

// Init starts the form.
func (m *Model) Init() tea.Cmd {
	return m.form.Init()
}

// Mode returns the current state.
func (m *Model) Mode() Mode {
	return m.mode
}

// Err returns the error that ended the setup, if any.
func (m *Model) Err() error {
	return m.saveErr
}

// Update handles messages and dispatches based on the current mode.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case validateResultMsg:
		m.validUser = msg.name
		m.err = msg.err
		if msg.err != nil {
			m.mode = ModeValidateResult
			return m, nil
		}
		return m, m.saveCmd()

	case savedMsg:
		m.saveErr = msg.err
		m.mode = ModeDone
		return m, tea.Quit

	case spinner.TickMsg:
		if m.mode == ModeValidating {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.mode {
		case ModeValidateResult:
			return m.handleValidateResultKeys(msg)
		case ModeValidating:
			return m, nil
		}
	}

	if m.mode == ModeForm {
		return m.updateForm(msg)
	}
	return m, nil
}

func (m *Model) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		return m, m.startValidation()
	case huh.StateAborted:
		return m, tea.Quit
	}
	return m, cmd
}

// handleValidateResultKeys processes key events after a failed login.
func (m *Model) handleValidateResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "r":
		return m, m.startValidation()
	case "s":
		return m, m.saveCmd()
	case "esc", "q":
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) startValidation() tea.Cmd {
	m.mode = ModeValidating
	m.err = nil
	cfg := m.config().Mailbox
	validate := m.validate
	return tea.Batch(
		m.spinner.Tick,
		func() tea.Msg {
			if validate == nil {
				return validateResultMsg{name: cfg.Username}
			}
			if cfg.Password == "" {
				stored, err := credential.Resolve("", credential.MailboxKey(cfg.Username))
				if err != nil {
					return validateResultMsg{err: err}
				}
				cfg.Password = stored
			}
			ctx, cancel := context.WithTimeout(context.Background(), validateTimeout)
			defer cancel()
			name, err := validate(ctx, cfg)
			return validateResultMsg{name: name, err: err}
		},
	)
}

func (m *Model) saveCmd() tea.Cmd {
	cfg := m.config()
	secrets := Secrets{Mailbox: m.formPassword, SMTP: m.formSMTPPass}
	path, save := m.path, m.save
	return func() tea.Msg {
		return savedMsg{err: save(path, cfg, secrets)}
	}
}

// save writes cfg to path and the passwords to the keyring.
func save(path string, cfg *model.AppConfig, s Secrets) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if s.Mailbox != "" {
		if err := credential.Set(credential.MailboxKey(cfg.Mailbox.Username), s.Mailbox); err != nil {
			return fmt.Errorf("saving mailbox password: %w", err)
		}
	}
	if s.SMTP != "" && cfg.Notify.Username != "" {
		if err := credential.Set(credential.SMTPKey(cfg.Notify.Username), s.SMTP); err != nil {
			return fmt.Errorf("saving SMTP password: %w", err)
		}
	}
	return model.SaveConfig(path, cfg)
}

// --- Form ---

func (m *Model) fill(cfg model.AppConfig) {
	m.formHost = cfg.Mailbox.Host
	m.formPort = strconv.Itoa(cfg.Mailbox.Port)
	m.formTLS = cfg.Mailbox.TLS
	m.formUsername = cfg.Mailbox.Username
	m.formFolder = cfg.Mailbox.Folder
	m.formDownload = cfg.DownloadFolder
	m.formPrinter = cfg.Printer.Name
	m.formDryRun = cfg.Printer.DryRun
	m.formNotify = cfg.Notify.Enabled()
	m.formSMTPHost = cfg.Notify.SMTPHost
	m.formSMTPPort = strconv.Itoa(cfg.Notify.SMTPPort)
	m.formSMTPUser = cfg.Notify.Username
	m.formFrom = cfg.Notify.From
	m.formTo = strings.Join(cfg.Notify.To, ", ")
}

func (m *Model) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("IMAP Host").
				Description("Mailbox server hostname").
				Placeholder("imap.example.com").
				Value(&m.formHost).
				Validate(validateRequired("IMAP Host")),
			huh.NewInput().
				Title("IMAP Port").
				Description("Mailbox server port (e.g., 993)").
				Placeholder("993").
				Value(&m.formPort).
				Validate(validatePort),
			huh.NewConfirm().
				Title("Use TLS").
				Description("Connect with implicit TLS; otherwise STARTTLS").
				Affirmative("Yes").
				Negative("No").
				Value(&m.formTLS),
			huh.NewInput().
				Title("Username").
				Placeholder("printer@example.com").
				Value(&m.formUsername).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				Description("Stored in the system keyring. Leave empty to keep the current one").
				EchoMode(huh.EchoModePassword).
				Value(&m.formPassword),
			huh.NewInput().
				Title("Folder").
				Placeholder("INBOX").
				Value(&m.formFolder),
		).Title("Mailbox"),

		huh.NewGroup(
			huh.NewInput().
				Title("Download folder").
				Description("Where attachments and converted PDFs are kept until printed").
				Value(&m.formDownload).
				Validate(validateRequired("Download folder")),
			huh.NewInput().
				Title("Printer").
				Description("CUPS queue name passed to lp -d").
				Value(&m.formPrinter),
			huh.NewConfirm().
				Title("Dry run").
				Description("Log instead of printing").
				Affirmative("Yes").
				Negative("No").
				Value(&m.formDryRun),
		).Title("Printing"),

		huh.NewGroup(
			huh.NewConfirm().
				Title("Mail a report when attachments cannot be printed?").
				Affirmative("Yes").
				Negative("No").
				Value(&m.formNotify),
		).Title("Notifications"),

		huh.NewGroup(
			huh.NewInput().
				Title("SMTP Host").
				Placeholder("smtp.example.com").
				Value(&m.formSMTPHost).
				Validate(validateRequired("SMTP Host")),
			huh.NewInput().
				Title("SMTP Port").
				Placeholder("587").
				Value(&m.formSMTPPort).
				Validate(validatePort),
			huh.NewInput().
				Title("SMTP Username").
				Description("Leave empty for an unauthenticated relay").
				Value(&m.formSMTPUser),
			huh.NewInput().
				Title("SMTP Password").
				EchoMode(huh.EchoModePassword).
				Value(&m.formSMTPPass),
			huh.NewInput().
				Title("From").
				Value(&m.formFrom).
				Validate(validateAddress),
			huh.NewInput().
				Title("To").
				Description("Comma-separated operator addresses").
				Value(&m.formTo).
				Validate(validateAddressList),
		).Title("SMTP").WithHideFunc(func() bool { return !m.formNotify }),
	).WithWidth(m.formWidth())
}

// config merges the form values into the base configuration.
func (m *Model) config() *model.AppConfig {
	cfg := m.base

	cfg.Mailbox.Host = strings.TrimSpace(m.formHost)
	cfg.Mailbox.Port, _ = strconv.Atoi(strings.TrimSpace(m.formPort))
	cfg.Mailbox.TLS = m.formTLS
	cfg.Mailbox.Username = strings.TrimSpace(m.formUsername)
	cfg.Mailbox.Folder = strings.TrimSpace(m.formFolder)
	if cfg.Mailbox.Folder == "" {
		cfg.Mailbox.Folder = "INBOX"
	}
	cfg.Mailbox.Password = m.formPassword

	cfg.DownloadFolder = strings.TrimSpace(m.formDownload)
	cfg.Printer.Name = strings.TrimSpace(m.formPrinter)
	cfg.Printer.DryRun = m.formDryRun

	if m.formNotify {
		cfg.Notify.SMTPHost = strings.TrimSpace(m.formSMTPHost)
		cfg.Notify.SMTPPort, _ = strconv.Atoi(strings.TrimSpace(m.formSMTPPort))
		cfg.Notify.Username = strings.TrimSpace(m.formSMTPUser)
		cfg.Notify.From = strings.TrimSpace(m.formFrom)
		cfg.Notify.To = splitList(m.formTo)
	} else {
		cfg.Notify.SMTPHost = ""
	}
	return &cfg
}

// --- View ---

// View renders the setup UI based on the current mode.
func (m *Model) View() string {
	style := lipgloss.NewStyle().Padding(1, 2)

	switch m.mode {
	case ModeForm:
		return style.Render(m.form.View())

	case ModeValidating:
		return style.Render(fmt.Sprintf(
			"%s Testing mailbox login...", m.spinner.View(),
		))

	case ModeValidateResult:
		errStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorRed)
		return style.Render(errStyle.Render("Mailbox login failed") + "\n\n" +
			m.err.Error() + "\n\n" +
			theme.HelpStyle.Render("r retry | s save anyway | esc quit"))

	case ModeDone:
		if m.saveErr != nil {
			errStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorRed)
			return style.Render(errStyle.Render("Saving failed") + "\n\n" + m.saveErr.Error() + "\n")
		}
		okStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorGreen)
		content := okStyle.Render("Settings saved") + "\n\n"
		if m.validUser != "" {
			content += fmt.Sprintf("Authenticated as: %s", m.validUser) + "\n"
		}
		content += fmt.Sprintf("Config written to %s", m.path) + "\n"
		return style.Render(content)
	}
	return ""
}

// --- Helpers ---

func (m *Model) formWidth() int {
	w := m.width - 4
	if w < 40 {
		w = 40
	}
	if w > 100 {
		w = 100
	}
	return w
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// --- Validators ---

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validatePort(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("port is required")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("port must be a number")
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

func validateAddress(s string) error {
	return validation.Validate(strings.TrimSpace(s), validation.Required, is.EmailFormat)
}

func validateAddressList(s string) error {
	addrs := splitList(s)
	if len(addrs) == 0 {
		return fmt.Errorf("at least one address is required")
	}
	for _, a := range addrs {
		if err := validateAddress(a); err != nil {
			return err
		}
	}
	return nil
}
