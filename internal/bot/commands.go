package bot

import "github.com/bwmarrin/discordgo"

const commandName = "antispam"

func commandDefinitions() []*discordgo.ApplicationCommand {
	adminOnly := int64(discordgo.PermissionAdministrator)
	noDM := false
	minHours := float64(1)

	userOption := func(description string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        "user",
			Description: description,
			Required:    true,
		}
	}
	pathOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "path",
		Description: "Dotted setting path, e.g. spam_detection.max_messages_per_window",
		Required:    true,
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:                     commandName,
			Description:              "Configure bot, spam and raid protection",
			DefaultMemberPermissions: &adminOnly,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "config",
					Description: "Show the current protection settings",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "enable",
					Description: "Turn protection on",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "disable",
					Description: "Turn protection off",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "logchannel",
					Description: "Send moderation logs to a channel (defaults to this one)",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:         discordgo.ApplicationCommandOptionChannel,
							Name:         "channel",
							Description:  "Log channel",
							ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
					Name:        "whitelist",
					Description: "Manage trusted members",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionSubCommand,
							Name:        "add",
							Description: "Trust a member",
							Options:     []*discordgo.ApplicationCommandOption{userOption("Member to trust")},
						},
						{
							Type:        discordgo.ApplicationCommandOptionSubCommand,
							Name:        "remove",
							Description: "Stop trusting a member",
							Options:     []*discordgo.ApplicationCommandOption{userOption("Member to remove")},
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "verification",
					Description: "Show or toggle captcha verification for new members",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "enabled",
							Description: "New value",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "verify",
					Description: "Send a captcha challenge to a member",
					Options:     []*discordgo.ApplicationCommandOption{userOption("Member to challenge")},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "approve",
					Description: "Mark a member as verified and lift the quarantine",
					Options:     []*discordgo.ApplicationCommandOption{userOption("Member to approve")},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "get",
					Description: "Read one setting",
					Options:     []*discordgo.ApplicationCommandOption{pathOption},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set",
					Description: "Change one setting",
					Options: []*discordgo.ApplicationCommandOption{
						pathOption,
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "value",
							Description: "JSON value; plain text is stored as a string",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "stats",
					Description: "Show moderation statistics",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "hours",
							Description: "Look-back window (default 24)",
							MinValue:    &minHours,
							MaxValue:    2160,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "lockdown",
					Description: "Show or end a raid lockdown",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "action",
							Description: "status or end",
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "status", Value: "status"},
								{Name: "end", Value: "end"},
							},
						},
					},
				},
			},
		},
	}
}

// registerCommands creates or updates the global commands and deletes stale ones.
func (b *Bot) registerCommands() error {
	commands := commandDefinitions()
	appID := b.session.State.User.ID

	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand, len(existing))
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{}, len(commands))
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}
	return nil
}
