package photos

import "testing"

func TestAlbum_SanitizedName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain name", "Holidays", "Holidays"},
		{"single separator", "2023/Summer", "2023_Summer"},
		{"multiple separators", "a/b/c", "a_b_c"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Album{Name: tt.in}
			if got := a.SanitizedName(); got != tt.want {
				t.Errorf("SanitizedName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAlbum_Equal(t *testing.T) {
	base := Album{
		ID:       "a1",
		Type:     TypeAlbum,
		Name:     "Summer",
		ParentID: "f1",
		Assets:   map[string]string{"x": "IMG_1.JPG", "y": "IMG_2.JPG"},
	}

	tests := []struct {
		name string
		a, b Album
		want bool
	}{
		{
			name: "identical",
			a:    base,
			b:    base,
			want: true,
		},
		{
			name: "asset insertion order irrelevant",
			a:    base,
			b: Album{
				ID: "a1", Type: TypeAlbum, Name: "Summer", ParentID: "f1",
				Assets: map[string]string{"y": "IMG_2.JPG", "x": "IMG_1.JPG"},
			},
			want: true,
		},
		{
			name: "filenames differ but asset ids match",
			a:    base,
			b: Album{
				ID: "a1", Type: TypeAlbum, Name: "Summer", ParentID: "f1",
				Assets: map[string]string{"x": "other.jpg", "y": "names.jpg"},
			},
			want: true,
		},
		{
			name: "different id",
			a:    base,
			b:    Album{ID: "a2", Type: TypeAlbum, Name: "Summer", ParentID: "f1", Assets: base.Assets},
			want: false,
		},
		{
			name: "different parent",
			a:    base,
			b:    Album{ID: "a1", Type: TypeAlbum, Name: "Summer", ParentID: "f2", Assets: base.Assets},
			want: false,
		},
		{
			name: "different asset set",
			a:    base,
			b: Album{
				ID: "a1", Type: TypeAlbum, Name: "Summer", ParentID: "f1",
				Assets: map[string]string{"x": "IMG_1.JPG"},
			},
			want: false,
		},
		{
			name: "different type",
			a:    base,
			b:    Album{ID: "a1", Type: TypeFolder, Name: "Summer", ParentID: "f1", Assets: base.Assets},
			want: false,
		},
		{
			name: "sanitized names match",
			a:    Album{ID: "a1", Type: TypeAlbum, Name: "20/21", ParentID: "f1"},
			b:    Album{ID: "a1", Type: TypeAlbum, Name: "20_21", ParentID: "f1"},
			want: true,
		},
		{
			name: "archived ignores type and assets",
			a:    Album{ID: "a1", Type: TypeArchived, Name: "Summer", ParentID: "f1", Assets: map[string]string{"frozen": "old.jpg"}},
			b:    base,
			want: true,
		},
		{
			name: "archived on the right side",
			a:    base,
			b:    Album{ID: "a1", Type: TypeArchived, Name: "Summer", ParentID: "f1"},
			want: true,
		},
		{
			name: "archived still requires same parent",
			a:    Album{ID: "a1", Type: TypeArchived, Name: "Summer", ParentID: "f2"},
			b:    base,
			want: false,
		},
		{
			name: "archived still requires same name",
			a:    Album{ID: "a1", Type: TypeArchived, Name: "Winter", ParentID: "f1"},
			b:    base,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
			// Equality is symmetric.
			if got := tt.b.Equal(tt.a); got != tt.want {
				t.Errorf("Equal() reversed = %v, want %v", got, tt.want)
			}
		})
	}
}
