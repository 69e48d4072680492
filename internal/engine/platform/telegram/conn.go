package telegram

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/peer"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"github.com/dmitrijs2005/tgfleet/internal/engine/platform"
)

type conn struct {
	client   *telegram.Client
	api      *tg.Client
	sender   *message.Sender
	resolver peer.Resolver
}

func newConn(c *telegram.Client) *conn {
	api := c.API()
	return &conn{
		client:   c,
		api:      api,
		sender:   message.NewSender(api),
		resolver: peer.Plain(api),
	}
}

func (c *conn) SendCode(ctx context.Context, phone string) (string, error) {
	sent, err := c.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", mapError(err)
	}
	switch s := sent.(type) {
	case *tg.AuthSentCode:
		return s.PhoneCodeHash, nil
	default:
		return "", fmt.Errorf("unexpected sent code type %T", sent)
	}
}

func (c *conn) SignIn(ctx context.Context, phone, code, codeHash string) error {
	_, err := c.client.Auth().SignIn(ctx, phone, code, codeHash)
	return mapError(err)
}

func (c *conn) CheckPassword(ctx context.Context, password string) error {
	_, err := c.client.Auth().Password(ctx, password)
	return mapError(err)
}

func (c *conn) BotLogin(ctx context.Context, token string) error {
	_, err := c.client.Auth().Bot(ctx, token)
	return mapError(err)
}

func (c *conn) Self(ctx context.Context) (*platform.User, error) {
	u, err := c.client.Self(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return &platform.User{ID: u.ID, Username: u.Username, Phone: u.Phone, Bot: u.Bot}, nil
}

func (c *conn) LogOut(ctx context.Context) error {
	_, err := c.api.AuthLogOut(ctx)
	return mapError(err)
}

func (c *conn) SendMessage(ctx context.Context, target string, msg platform.Message) error {
	b := c.sender.Resolve(normalizeTarget(target))

	if msg.MediaPath == "" {
		_, err := b.Text(ctx, msg.Text)
		return mapError(err)
	}

	file, err := uploader.NewUploader(c.api).FromPath(ctx, msg.MediaPath)
	if err != nil {
		return mapError(err)
	}
	var caption []message.StyledTextOption
	if msg.Text != "" {
		caption = append(caption, styling.Plain(msg.Text))
	}
	_, err = b.Media(ctx, message.UploadedDocument(file, caption...))
	return mapError(err)
}

func (c *conn) Join(ctx context.Context, target string) error {
	if hash, ok := inviteHash(target); ok {
		_, err := c.api.MessagesImportChatInvite(ctx, hash)
		return mapError(err)
	}

	p, err := c.resolver.ResolveDomain(ctx, username(target))
	if err != nil {
		return mapError(err)
	}
	ch, ok := p.(*tg.InputPeerChannel)
	if !ok {
		return platform.NewError(platform.KindNotFound, "PEER_NOT_CHANNEL")
	}
	_, err = c.api.ChannelsJoinChannel(ctx, &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash})
	return mapError(err)
}

func (c *conn) History(ctx context.Context, target, offset string, limit int) (*platform.Page, error) {
	p, err := c.resolver.ResolveDomain(ctx, username(target))
	if err != nil {
		return nil, mapError(err)
	}

	req := &tg.MessagesGetHistoryRequest{Peer: p, Limit: limit}
	if offset != "" {
		id, err := strconv.Atoi(offset)
		if err != nil {
			return nil, fmt.Errorf("bad cursor %q: %w", offset, err)
		}
		req.OffsetID = id
	}

	res, err := c.api.MessagesGetHistory(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}

	var msgs []tg.MessageClass
	switch r := res.(type) {
	case *tg.MessagesMessages:
		msgs = r.Messages
	case *tg.MessagesMessagesSlice:
		msgs = r.Messages
	case *tg.MessagesChannelMessages:
		msgs = r.Messages
	}

	page := &platform.Page{}
	last := 0
	for _, m := range msgs {
		last = m.GetID()
		msg, ok := m.(*tg.Message)
		if !ok {
			continue
		}
		page.Items = append(page.Items, platform.Item{
			ID:    strconv.Itoa(msg.ID),
			Text:  msg.Message,
			Date:  time.Unix(int64(msg.Date), 0).UTC(),
			Media: mediaOf(msg),
		})
	}
	if last == 0 || len(msgs) < limit {
		page.Done = true
	}
	if last != 0 {
		page.Next = strconv.Itoa(last)
	}
	return page, nil
}

func (c *conn) Download(ctx context.Context, m *platform.Media, w io.Writer) error {
	loc, ok := m.Ref.(tg.InputFileLocationClass)
	if !ok {
		return fmt.Errorf("media %s has no file location", m.ID)
	}
	_, err := downloader.NewDownloader().Download(c.api, loc).Stream(ctx, w)
	return mapError(err)
}

func mediaOf(msg *tg.Message) *platform.Media {
	switch media := msg.Media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := media.Photo.(*tg.Photo)
		if !ok {
			return nil
		}
		return &platform.Media{
			ID:  strconv.FormatInt(photo.ID, 10),
			Ext: ".jpg",
			Ref: &tg.InputPhotoFileLocation{
				ID:            photo.ID,
				AccessHash:    photo.AccessHash,
				FileReference: photo.FileReference,
				ThumbSize:     largestSize(photo.Sizes),
			},
		}
	case *tg.MessageMediaDocument:
		doc, ok := media.Document.(*tg.Document)
		if !ok {
			return nil
		}
		return &platform.Media{
			ID:   strconv.FormatInt(doc.ID, 10),
			Ext:  extFor(doc.MimeType),
			Size: doc.Size,
			Ref: &tg.InputDocumentFileLocation{
				ID:            doc.ID,
				AccessHash:    doc.AccessHash,
				FileReference: doc.FileReference,
			},
		}
	}
	return nil
}

func largestSize(sizes []tg.PhotoSizeClass) string {
	best, bestArea := "x", 0
	for _, s := range sizes {
		if ps, ok := s.(*tg.PhotoSize); ok && ps.W*ps.H > bestArea {
			best, bestArea = ps.Type, ps.W*ps.H
		}
	}
	return best
}

func extFor(mime string) string {
	switch mime {
	case "video/mp4":
		return ".mp4"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "audio/ogg":
		return ".ogg"
	case "application/pdf":
		return ".pdf"
	}
	return ".bin"
}

func normalizeTarget(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") || strings.HasPrefix(target, "t.me/") {
		return target
	}
	if !strings.HasPrefix(target, "@") {
		return "@" + target
	}
	return target
}

// inviteHash extracts the hash of a private invite link
// (t.me/+HASH or t.me/joinchat/HASH).
func inviteHash(target string) (string, bool) {
	s := trimLink(target)
	switch {
	case strings.HasPrefix(s, "+"):
		return s[1:], len(s) > 1
	case strings.HasPrefix(s, "joinchat/"):
		h := strings.TrimPrefix(s, "joinchat/")
		return h, h != ""
	}
	return "", false
}

func username(target string) string {
	s := trimLink(target)
	s = strings.TrimPrefix(s, "@")
	if i := strings.IndexAny(s, "/?"); i >= 0 {
		s = s[:i]
	}
	return s
}

func trimLink(target string) string {
	s := strings.TrimSpace(target)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	s = strings.TrimPrefix(s, "t.me/")
	s = strings.TrimPrefix(s, "telegram.me/")
	return s
}
