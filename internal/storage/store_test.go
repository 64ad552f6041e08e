package storage_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"chatvault/internal/arc"
	"chatvault/internal/storage"
	"chatvault/internal/testutil"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"abc-123_XYZ", "abc-123_XYZ"},
		{"a/b\\c", "a_b_c"},
		{"../etc/passwd", "___etc_passwd"},
		{"conv id.json", "conv_id_json"},
		{"ünï", "_n_"},
		{"", "_"},
	}
	for _, tt := range tests {
		if got := storage.Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	t.Run("round trips a conversation", func(t *testing.T) {
		t.Parallel()
		s := testutil.NewTestStore(t, storage.Options{})
		conv := testutil.NewConversation("claude", "c1")

		if err := s.SaveConversation(conv); err != nil {
			t.Fatalf("SaveConversation() error = %v", err)
		}

		ok, err := s.ConversationExists("claude", "c1")
		if err != nil || !ok {
			t.Fatalf("ConversationExists() = %v, %v; want true, nil", ok, err)
		}

		got, err := s.GetConversation("claude", "c1")
		if err != nil {
			t.Fatalf("GetConversation() error = %v", err)
		}
		if got.Title != conv.Title || len(got.Messages) != 2 {
			t.Errorf("GetConversation() = %+v, want title %q with 2 messages", got, conv.Title)
		}
		if got.Metadata.MessageCount != 2 {
			t.Errorf("Metadata.MessageCount = %d, want 2", got.Metadata.MessageCount)
		}
		if !got.UpdatedAt.Equal(conv.UpdatedAt) {
			t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, conv.UpdatedAt)
		}
	})

	t.Run("missing conversation", func(t *testing.T) {
		t.Parallel()
		s := testutil.NewTestStore(t, storage.Options{})

		ok, err := s.ConversationExists("claude", "nope")
		if err != nil || ok {
			t.Errorf("ConversationExists() = %v, %v; want false, nil", ok, err)
		}
		_, err = s.GetConversation("claude", "nope")
		if !errors.Is(err, arc.ErrNotFound) {
			t.Errorf("GetConversation() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("idempotent save", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		s := testutil.NewTestStore(t, storage.Options{BaseDir: dir, Formats: []storage.Format{storage.FormatJSON, storage.FormatMarkdown}})
		conv := testutil.NewConversation("claude", "c1")

		if err := s.SaveConversation(conv); err != nil {
			t.Fatalf("first SaveConversation() error = %v", err)
		}
		first, _ := s.GetIndex("claude")
		filesBefore := listFiles(t, dir)

		if err := s.SaveConversation(conv); err != nil {
			t.Fatalf("second SaveConversation() error = %v", err)
		}
		second, _ := s.GetIndex("claude")
		filesAfter := listFiles(t, dir)

		a, b := first.Conversations["c1"], second.Conversations["c1"]
		a.ArchivedAt, b.ArchivedAt = time.Time{}, time.Time{}
		if !reflect.DeepEqual(a, b) {
			t.Errorf("index entry changed:\n got %+v\nwant %+v", b, a)
		}
		if !reflect.DeepEqual(filesBefore, filesAfter) {
			t.Errorf("files changed: before %v, after %v", filesBefore, filesAfter)
		}
	})

	t.Run("index entry fields", func(t *testing.T) {
		t.Parallel()
		s := testutil.NewTestStore(t, storage.Options{})
		conv := testutil.WithAttachments(testutil.NewConversation("claude", "c1"), "https://x/a.png")

		if err := s.SaveConversation(conv); err != nil {
			t.Fatalf("SaveConversation() error = %v", err)
		}
		idx, err := s.GetIndex("claude")
		if err != nil {
			t.Fatalf("GetIndex() error = %v", err)
		}
		e := idx.Conversations["c1"]
		if e.Path != "conversations/c1" {
			t.Errorf("Path = %q, want %q", e.Path, "conversations/c1")
		}
		if !e.HasMedia || e.MediaCount != 1 {
			t.Errorf("HasMedia, MediaCount = %v, %d; want true, 1", e.HasMedia, e.MediaCount)
		}
		if len(e.ContentHash) != 16 || e.ContentHash != arc.ContentHash(conv) {
			t.Errorf("ContentHash = %q, want %q", e.ContentHash, arc.ContentHash(conv))
		}
		if !e.ArchivedAt.Equal(testutil.FixedClock().Now()) {
			t.Errorf("ArchivedAt = %v, want clock time", e.ArchivedAt)
		}
	})
}

func TestStore_Compression(t *testing.T) {
	t.Run("writes gz and reads it back", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		s := testutil.NewTestStore(t, storage.Options{BaseDir: dir, Compress: true})
		if err := s.SaveConversation(testutil.NewConversation("claude", "c1")); err != nil {
			t.Fatalf("SaveConversation() error = %v", err)
		}

		for _, p := range []string{"claude/index.json.gz", "claude/conversations/c1/conversation.json.gz"} {
			if _, err := os.Stat(filepath.Join(dir, p)); err != nil {
				t.Errorf("expected %s: %v", p, err)
			}
		}
		if _, err := os.Stat(filepath.Join(dir, "claude/conversations/c1/conversation.json")); !os.IsNotExist(err) {
			t.Errorf("uncompressed copy should not exist, stat error = %v", err)
		}

		plain := testutil.NewTestStore(t, storage.Options{BaseDir: dir})
		got, err := plain.GetConversation("claude", "c1")
		if err != nil {
			t.Fatalf("GetConversation() from uncompressed store error = %v", err)
		}
		if got.ID != "c1" {
			t.Errorf("ID = %q, want c1", got.ID)
		}
	})

	t.Run("legacy uncompressed archive stays readable", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		plain := testutil.NewTestStore(t, storage.Options{BaseDir: dir})
		if err := plain.SaveConversation(testutil.NewConversation("claude", "c1")); err != nil {
			t.Fatalf("SaveConversation() error = %v", err)
		}

		compressed := testutil.NewTestStore(t, storage.Options{BaseDir: dir, Compress: true})
		if _, err := compressed.GetConversation("claude", "c1"); err != nil {
			t.Fatalf("GetConversation() error = %v", err)
		}
		idx, err := compressed.GetIndex("claude")
		if err != nil || len(idx.Conversations) != 1 {
			t.Fatalf("GetIndex() = %v entries, %v; want 1, nil", len(idx.Conversations), err)
		}

		if err := compressed.SaveConversation(testutil.NewConversation("claude", "c1")); err != nil {
			t.Fatalf("SaveConversation() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "claude/conversations/c1/conversation.json")); !os.IsNotExist(err) {
			t.Errorf("stale uncompressed copy left behind, stat error = %v", err)
		}
	})
}

func TestStore_Layout(t *testing.T) {
	t.Run("date layout", func(t *testing.T) {
		t.Parallel()
		s := testutil.NewTestStore(t, storage.Options{Layout: storage.LayoutDate})
		if err := s.SaveConversation(testutil.NewConversation("claude", "c1")); err != nil {
			t.Fatalf("SaveConversation() error = %v", err)
		}
		idx, _ := s.GetIndex("claude")
		if got := idx.Conversations["c1"].Path; got != "conversations/2024/01/c1" {
			t.Errorf("Path = %q, want conversations/2024/01/c1", got)
		}
		if ok, _ := s.ConversationExists("claude", "c1"); !ok {
			t.Error("ConversationExists() = false for date-bucketed conversation")
		}
	})

	t.Run("layout switch keeps a date bucket named like a conversation", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		flat := testutil.NewTestStore(t, storage.Options{BaseDir: dir})
		if err := flat.SaveConversation(testutil.NewConversation("claude", "2024")); err != nil {
			t.Fatalf("SaveConversation(2024) error = %v", err)
		}

		dated := testutil.NewTestStore(t, storage.Options{BaseDir: dir, Layout: storage.LayoutDate})
		if err := dated.SaveConversation(testutil.NewConversation("claude", "x")); err != nil {
			t.Fatalf("SaveConversation(x) error = %v", err)
		}
		if err := dated.SaveConversation(testutil.NewConversation("claude", "2024")); err != nil {
			t.Fatalf("SaveConversation(2024) after layout switch error = %v", err)
		}

		for _, id := range []string{"x", "2024"} {
			if _, err := dated.GetConversation("claude", id); err != nil {
				t.Errorf("GetConversation(%s) error = %v", id, err)
			}
		}
		if _, err := os.Stat(filepath.Join(dir, "claude/conversations/2024/01/x/conversation.json")); err != nil {
			t.Errorf("conversation x under the 2024 bucket was removed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "claude/conversations/2024/conversation.json")); !os.IsNotExist(err) {
			t.Errorf("flat copy of 2024 still present, stat error = %v", err)
		}
		idx, _ := dated.GetIndex("claude")
		if got := idx.Conversations["2024"].Path; got != "conversations/2024/01/2024" {
			t.Errorf("Path = %q, want conversations/2024/01/2024", got)
		}
	})

	t.Run("hierarchy moves remove the old directory", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		s := testutil.NewTestStore(t, storage.Options{BaseDir: dir})
		conv := testutil.NewConversation("chatgpt", "c1")
		conv.Hierarchy = &arc.Hierarchy{WorkspaceID: "ws1", WorkspaceName: "Team", ProjectID: "p1", ProjectName: "Alpha"}
		if err := s.SaveConversation(conv); err != nil {
			t.Fatalf("SaveConversation() error = %v", err)
		}
		oldDir := filepath.Join(dir, "chatgpt/workspaces/ws1/p1/conversations/c1")
		if _, err := os.Stat(oldDir); err != nil {
			t.Fatalf("expected %s: %v", oldDir, err)
		}

		conv.Hierarchy = &arc.Hierarchy{WorkspaceID: "ws1", ProjectID: "p2", ProjectName: "Beta"}
		if err := s.SaveConversation(conv); err != nil {
			t.Fatalf("SaveConversation() error = %v", err)
		}
		if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
			t.Errorf("old directory still present, stat error = %v", err)
		}

		hi, err := s.GetHierarchyIndex("chatgpt")
		if err != nil {
			t.Fatalf("GetHierarchyIndex() error = %v", err)
		}
		ws, proj, found := hi.Locate("c1")
		if !found || ws != "ws1" || proj != "p2" {
			t.Errorf("Locate() = %q, %q, %v; want ws1, p2, true", ws, proj, found)
		}
		if n := len(hi.Workspaces["ws1"].Projects["p1"].ConversationIDs); n != 0 {
			t.Errorf("old project still holds %d ids", n)
		}
		if hi.Workspaces["ws1"].Name != "Team" {
			t.Errorf("workspace name = %q, want Team", hi.Workspaces["ws1"].Name)
		}

		conv.Hierarchy = nil
		if err := s.SaveConversation(conv); err != nil {
			t.Fatalf("SaveConversation() error = %v", err)
		}
		hi, _ = s.GetHierarchyIndex("chatgpt")
		if ws, proj, found := hi.Locate("c1"); !found || ws != "" || proj != "" {
			t.Errorf("Locate() = %q, %q, %v; want unorganized", ws, proj, found)
		}
	})
}

func TestStore_Formats(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := testutil.NewTestStore(t, storage.Options{BaseDir: dir, Formats: []storage.Format{storage.FormatJSON, storage.FormatMarkdown}})
	conv := testutil.NewConversation("claude", "c1")
	conv.Messages[1].Attachments = []arc.Attachment{
		{ID: "art1", Type: arc.AttachmentArtifact, Content: "<svg/>", MimeType: "image/svg+xml"},
	}
	if err := s.SaveConversation(conv); err != nil {
		t.Fatalf("SaveConversation() error = %v", err)
	}

	md, err := os.ReadFile(filepath.Join(dir, "claude/conversations/c1/conversation.md"))
	if err != nil {
		t.Fatalf("reading markdown: %v", err)
	}
	text := string(md)
	for _, want := range []string{"---\nid: c1\n", "provider: claude", "# Conversation c1", "## user", "hello from c1", "- artifact: attachment-art1.svg"} {
		if !strings.Contains(text, want) {
			t.Errorf("markdown missing %q:\n%s", want, text)
		}
	}

	side, err := os.ReadFile(filepath.Join(dir, "claude/conversations/c1/attachment-art1.svg"))
	if err != nil {
		t.Fatalf("reading inline attachment: %v", err)
	}
	if string(side) != "<svg/>" {
		t.Errorf("attachment content = %q, want <svg/>", side)
	}
}

func TestParseFormats(t *testing.T) {
	got, err := storage.ParseFormats([]string{"md"})
	if err != nil {
		t.Fatalf("ParseFormats() error = %v", err)
	}
	want := []storage.Format{storage.FormatJSON, storage.FormatMarkdown}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseFormats() = %v, want %v", got, want)
	}
	if _, err := storage.ParseFormats([]string{"pdf"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestStore_ProviderExtras(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := testutil.NewTestStore(t, storage.Options{BaseDir: dir})

	if err := s.SaveAssets("claude", []arc.Asset{{ID: "a1", Kind: "file", Name: "notes.txt"}}); err != nil {
		t.Fatalf("SaveAssets() error = %v", err)
	}
	if err := s.SaveWorkspaces("claude", []arc.Workspace{{ID: "w1", Name: "Team"}}); err != nil {
		t.Fatalf("SaveWorkspaces() error = %v", err)
	}
	for _, p := range []string{"claude/assets/assets.json", "claude/workspaces/workspaces.json"} {
		if _, err := os.Stat(filepath.Join(dir, p)); err != nil {
			t.Errorf("expected %s: %v", p, err)
		}
	}
}

func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(root, path)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walking %s: %v", root, err)
	}
	return files
}

func TestStore_MetadataFiles(t *testing.T) {
	tests := []struct {
		name     string
		compress bool
		want     []string
	}{
		{name: "plain", want: []string{"index.json", "hierarchy-index.json"}},
		{name: "compressed index", compress: true, want: []string{"index.json.gz", "hierarchy-index.json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testutil.NewTestStore(t, storage.Options{Compress: tt.compress})

			paths, err := s.MetadataFiles("claude")
			if err != nil {
				t.Fatalf("MetadataFiles() error = %v", err)
			}
			if len(paths) != 0 {
				t.Errorf("MetadataFiles() before save = %v, want none", paths)
			}

			if err := s.SaveConversation(testutil.NewConversation("claude", "c1")); err != nil {
				t.Fatalf("SaveConversation() error = %v", err)
			}
			paths, err = s.MetadataFiles("claude")
			if err != nil {
				t.Fatalf("MetadataFiles() error = %v", err)
			}
			var got []string
			for _, p := range paths {
				got = append(got, filepath.Base(p))
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MetadataFiles() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStore_AttachmentIDs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := testutil.NewTestStore(t, storage.Options{BaseDir: dir})

	newConv := func() *arc.Conversation {
		conv := testutil.NewConversation("claude", "c1")
		conv.Messages[1].Attachments = []arc.Attachment{
			{Type: arc.AttachmentArtifact, Content: "first", MimeType: "text/plain"},
			{Type: arc.AttachmentArtifact, Content: "second", MimeType: "text/plain"},
		}
		return conv
	}

	first := newConv()
	if err := s.SaveConversation(first); err != nil {
		t.Fatalf("SaveConversation() error = %v", err)
	}
	ids := []string{first.Messages[1].Attachments[0].ID, first.Messages[1].Attachments[1].ID}
	if ids[0] == "" || ids[0] == ids[1] {
		t.Fatalf("attachment ids = %v, want two distinct ids", ids)
	}

	second := newConv()
	if err := s.SaveConversation(second); err != nil {
		t.Fatalf("SaveConversation() error = %v", err)
	}
	if got := second.Messages[1].Attachments[0].ID; got != ids[0] {
		t.Errorf("re-saved attachment id = %q, want stable %q", got, ids[0])
	}

	entries, err := os.ReadDir(filepath.Join(dir, "claude", "conversations", "c1"))
	if err != nil {
		t.Fatal(err)
	}
	var sideFiles int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "attachment-") {
			sideFiles++
		}
	}
	if sideFiles != 2 {
		t.Errorf("side files = %d, want 2 after re-save", sideFiles)
	}
}
