package mock

// DemoPackage is the package name of DemoApp.
const DemoPackage = "com.example.demo"

// DemoApp returns a small drawer-navigation app: a home screen with a menu
// button that opens a drawer of three sections, each with a couple of
// sub-pages.
func DemoApp() *App {
	return &App{
		Package: DemoPackage,
		Home:    "Home",
		Screens: []*Screen{
			{Name: "Home", Title: "Welcome", Buttons: []Button{
				{ID: "menu", Text: "Menu", Target: "Drawer"},
			}},
			{Name: "Drawer", Title: "Navigate", Container: "drawer", Buttons: []Button{
				{ID: "nav_feed", Text: "Feed", Target: "Feed"},
				{ID: "nav_profile", Text: "Profile", Target: "Profile"},
				{ID: "nav_settings", Text: "Settings", Target: "Settings"},
			}},
			{Name: "Feed", Title: "Feed", Buttons: []Button{
				{ID: "menu", Text: "Menu", Target: "Drawer"},
				{ID: "post", Text: "Latest post", Target: "Post"},
			}},
			{Name: "Post", Title: "Post", Buttons: []Button{
				{ID: "comments", Text: "Comments", Target: "Comments"},
				{ID: "share", Text: "Share", Target: TargetExit},
			}},
			{Name: "Comments", Title: "Comments"},
			{Name: "Profile", Title: "Profile", Buttons: []Button{
				{ID: "menu", Text: "Menu", Target: "Drawer"},
				{ID: "edit", Text: "Edit profile", Target: "EditProfile"},
				{ID: "followers", Text: "Followers", Target: "Followers"},
			}},
			{Name: "EditProfile", Title: "Edit profile"},
			{Name: "Followers", Title: "Followers"},
			{Name: "Settings", Title: "Settings",
				Buttons: []Button{{ID: "menu", Text: "Menu", Target: "Drawer"}},
				Pages: [][]Button{
					{{ID: "account", Text: "Account", Target: "Account"}, {ID: "privacy", Text: "Privacy", Target: "Privacy"}},
					{{ID: "about", Text: "About", Target: "About"}},
				},
			},
			{Name: "Account", Title: "Account"},
			{Name: "Privacy", Title: "Privacy"},
			{Name: "About", Title: "About"},
		},
	}
}
