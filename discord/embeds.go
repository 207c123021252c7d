package discord

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/twitch-herald/twitchapi"
)

// EmbedColor is Twitch purple.
const EmbedColor = 0x9146FF

var rankPrefixes = []string{"🥇", "🥈", "🥉"}

// BuildLiveMessage renders the "stream started" announcement.
func BuildLiveMessage(login string, s *twitchapi.Stream, now time.Time) *discordgo.MessageSend {
	name := s.UserName
	if name == "" {
		name = login
	}
	description := s.Title
	if description == "" {
		description = "No description"
	}
	game := s.GameName
	if game == "" {
		game = "Not specified"
	}

	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("🔴 %s is LIVE!", name),
		Description: description,
		URL:         "https://twitch.tv/" + login,
		Color:       EmbedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "🎮 Game", Value: game, Inline: true},
			{Name: "👥 Viewers", Value: strconv.Itoa(s.ViewerCount), Inline: true},
		},
		Timestamp: now.UTC().Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: "Twitch Live Notification"},
	}
	if s.ThumbnailURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: liveThumbnail(s.ThumbnailURL, now)}
	}

	return &discordgo.MessageSend{
		Content: "@everyone The stream has started!",
		Embeds:  []*discordgo.MessageEmbed{embed},
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeEveryone},
		},
	}
}

// liveThumbnail fills the size template and appends a cache buster.
func liveThumbnail(tmpl string, now time.Time) string {
	u := strings.Replace(tmpl, "{width}", "1920", 1)
	u = strings.Replace(u, "{height}", "1080", 1)
	return u + "?t=" + strconv.FormatInt(now.UnixMilli(), 10)
}

// BuildClipsMessage renders the ranked clip digest. clips must be non-empty.
func BuildClipsMessage(login string, clips []twitchapi.Clip, now time.Time) *discordgo.MessageSend {
	fields := make([]*discordgo.MessageEmbedField, 0, len(clips))
	for i, c := range clips {
		title := c.Title
		if title == "" {
			title = "Not specified"
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("%s. %s", rankPrefix(i), title),
			Value: fmt.Sprintf("by %s with **%d** views\n[**Click here to watch!**](%s)", c.CreatorName, c.ViewCount, c.URL),
		})
	}

	embed := &discordgo.MessageEmbed{
		Title:       "🟣 Top clips are READY!",
		URL:         fmt.Sprintf("https://twitch.tv/%s/videos?filter=clips&range=24hr", login),
		Description: fmt.Sprintf("We've got the Top **%d** clips from **%s** over the last 24 hours! Check out the best moments below.", len(clips), login),
		Color:       EmbedColor,
		Fields:      fields,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: "Twitch Top Clips"},
	}
	if len(clips) > 0 && clips[0].ThumbnailURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{
			URL: strings.Replace(clips[0].ThumbnailURL, "-preview-480x272.jpg", ".jpg", 1),
		}
	}

	return &discordgo.MessageSend{
		Content: fmt.Sprintf("Here are the Top %d clips!", len(clips)),
		Embeds:  []*discordgo.MessageEmbed{embed},
	}
}

// rankPrefix is a medal for the podium and "N°k" after it.
func rankPrefix(i int) string {
	if i < len(rankPrefixes) {
		return rankPrefixes[i]
	}
	return fmt.Sprintf("N°%d", i+1)
}
