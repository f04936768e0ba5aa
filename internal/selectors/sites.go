// File: internal/selectors/sites.go
package selectors

// Built-in catalogs. Selector lists come from observed site markup and are
// ordered most-specific first; the retry policy walks to the next candidate
// on a layout mismatch.

// Shipping field strategies shared across sites: most checkout forms use
// either camelCase name attributes or id-based inputs.
var shippingStrategies = []LocatorStrategy{
	{
		Name: "name-attributes",
		Fields: map[string]string{
			"first_name": `input[name='firstName']`,
			"last_name":  `input[name='lastName']`,
			"address1":   `input[name='address1']`,
			"address2":   `input[name='address2']`,
			"city":       `input[name='city']`,
			"state":      `input[name='state']`,
			"zip":        `input[name='postalCode']`,
			"phone":      `input[name='phone']`,
			"email":      `input[name='email']`,
		},
	},
	{
		Name: "id-attributes",
		Fields: map[string]string{
			"first_name": `input#firstName`,
			"last_name":  `input#lastName`,
			"address1":   `input#addressLine1`,
			"address2":   `input#addressLine2`,
			"city":       `input#city`,
			"state":      `select[name='state']`,
			"zip":        `input[name='zip']`,
			"phone":      `input#phone`,
			"email":      `input#email`,
		},
	},
}

func registerBuiltins(r *Registry) {
	r.Register(SiteProfile{
		Name:               "ebay",
		SearchURL:          "https://www.ebay.com/sch/i.html?_nkw=%s",
		CartURLPattern:     "cart.ebay.com",
		CheckoutURLPattern: "pay.ebay.com",
	}, map[string][]LocatorStrategy{
		TargetSearchResults: {
			{
				Name:  "srp-results",
				Query: "li.s-item",
				Fields: map[string]string{
					FieldTitle: ".s-item__title",
					FieldPrice: ".s-item__price",
					FieldLink:  "a.s-item__link",
				},
			},
			{
				Name:  "srp-river",
				Query: "div.s-item__wrapper",
				Fields: map[string]string{
					FieldTitle: ".s-item__title",
					FieldPrice: ".s-item__price",
					FieldLink:  "a.s-item__link",
				},
			},
		},
		TargetAddToCart: {
			{Name: "atc-button", Query: "#atcBtn_btn_1"},
			{Name: "atc-action", Query: "a[data-testid='x-atc-action']"},
			{Name: "atc-redesign", Query: "div.x-atc-action a.btn"},
		},
		TargetGoToCart: {
			{Name: "header-cart", Query: "a[href*='cart.ebay.com']"},
			{Name: "minicart-link", Query: "a[aria-label*='cart']"},
		},
		TargetProceedToCheckout: {
			{Name: "checkout-button", Query: "button[data-test-id='cta-top']"},
			{Name: "checkout-link", Query: "a[href*='pay.ebay.com']"},
		},
		TargetShippingForm: shippingStrategies,
	})

	r.Register(SiteProfile{
		Name:               "amazon",
		SearchURL:          "https://www.amazon.com/s?k=%s",
		CartURLPattern:     "/cart",
		CheckoutURLPattern: "/checkout",
	}, map[string][]LocatorStrategy{
		TargetSearchResults: {
			{
				Name:  "search-result-cards",
				Query: "div[data-component-type='s-search-result']",
				Fields: map[string]string{
					FieldTitle: "h2 a span",
					FieldPrice: "span.a-price span.a-offscreen",
					FieldLink:  "h2 a",
				},
			},
			{
				Name:  "asin-cards",
				Query: "div[data-asin]",
				Fields: map[string]string{
					FieldTitle: "h2 a span",
					FieldPrice: "span.a-price span.a-offscreen",
					FieldLink:  "h2 a",
				},
			},
		},
		TargetAddToCart: {
			{Name: "buybox-button", Query: "button#add-to-cart-button"},
			{Name: "buybox-input", Query: "input#add-to-cart-button"},
		},
		TargetGoToCart: {
			{Name: "nav-cart", Query: "a#nav-cart"},
			{Name: "cart-href", Query: "a[href*='/cart']"},
		},
		TargetProceedToCheckout: {
			{Name: "proceed-native", Query: "a#hlb-ptc-btn-native"},
			{Name: "proceed-input", Query: "input[name='proceedToRetailCheckout']"},
			{Name: "checkout-href", Query: "a[href*='/checkout']"},
		},
		TargetShippingForm: shippingStrategies,
	})

	r.Register(SiteProfile{
		Name:               "walmart",
		SearchURL:          "https://www.walmart.com/search/?query=%s",
		CartURLPattern:     "/cart",
		CheckoutURLPattern: "/checkout",
	}, map[string][]LocatorStrategy{
		TargetSearchResults: {
			{
				Name:  "gridview-tiles",
				Query: "div.search-result-gridview-item-wrapper",
				Fields: map[string]string{
					FieldTitle: "a.product-title-link span",
					FieldPrice: "span.price-main span.visuallyhidden",
					FieldLink:  "a.product-title-link",
				},
			},
			{
				Name:  "item-stacks",
				Query: "div[data-item-id]",
				Fields: map[string]string{
					FieldTitle: "span[data-automation-id='product-title']",
					FieldPrice: "div[data-automation-id='product-price'] span.w_iUH7",
					FieldLink:  "a[link-identifier]",
				},
			},
		},
		TargetAddToCart: {
			{Name: "atc-automation", Query: "button[data-automation-id='atc']"},
			{Name: "atc-generic", Query: "button[name='add']"},
			{Name: "atc-class", Query: "button.add-to-cart"},
		},
		TargetGoToCart: {
			{Name: "cart-href", Query: "a[href*='/cart']"},
			{Name: "cart-aria", Query: "a[aria-label*='cart']"},
		},
		TargetProceedToCheckout: {
			{Name: "checkout-test", Query: "button[data-automation-id='checkout']"},
			{Name: "checkout-href", Query: "a[href*='/checkout']"},
		},
		TargetShippingForm: shippingStrategies,
	})

	// Catch-all catalog for storefronts without a dedicated entry. The
	// queries are intentionally broad; the extractor's drop-and-count policy
	// absorbs the noise.
	r.Register(SiteProfile{
		Name:               "generic",
		SearchURL:          "https://www.example.com/search?q=%s",
		CartURLPattern:     "/cart",
		CheckoutURLPattern: "/checkout",
	}, map[string][]LocatorStrategy{
		TargetSearchResults: {
			{
				Name:  "product-cards",
				Query: "[class*='product']",
				Fields: map[string]string{
					FieldTitle: "a",
					FieldPrice: "[class*='price']",
					FieldLink:  "a",
				},
			},
		},
		TargetAddToCart: {
			{Name: "atc-name", Query: "button[name='add']"},
			{Name: "atc-class", Query: "button.add-to-cart"},
			{Name: "atc-id", Query: "button#add-to-cart-button"},
		},
		TargetGoToCart: {
			{Name: "cart-href", Query: "a[href*='/cart']"},
			{Name: "cart-aria", Query: "a[aria-label*='cart']"},
		},
		TargetProceedToCheckout: {
			{Name: "checkout-href", Query: "a[href*='/checkout']"},
		},
		TargetShippingForm: shippingStrategies,
	})
}
