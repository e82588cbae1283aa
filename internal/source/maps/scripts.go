package maps

// acceptConsentJS clicks the first known consent button, if any.
const acceptConsentJS = `(function () {
  const selectors = [
    'button[aria-label="Accept all"]',
    'button[aria-label="I agree"]',
    'button[aria-label="Alles akzeptieren"]',
    'form[action*="consent"] button'
  ];
  for (const sel of selectors) {
    const btn = document.querySelector(sel);
    if (btn) {
      btn.click();
      return true;
    }
  }
  return false;
})();`

// scrollFeedJS scrolls the results panel by one viewport.
const scrollFeedJS = `(function () {
  const feed = document.querySelector('div[role="feed"]');
  if (feed) {
    feed.scrollBy(0, feed.offsetHeight);
  }
  return true;
})();`

// extractCardsJS returns a JSON array of result cards.
const extractCardsJS = `(function () {
  const text = (root, selector) => {
    const node = root ? root.querySelector(selector) : null;
    return node ? node.textContent.trim() : '';
  };
  const cards = Array.from(document.querySelectorAll('div.Nv2PK'));
  return JSON.stringify(cards.map(card => {
    const link = card.querySelector('a.hfpxzc');
    const lines = card.querySelectorAll('.W4Efsd span');
    const last = card.querySelector('.W4Efsd span:last-child');
    return {
      name: text(card, '.qBF1Pd'),
      kind: lines.length ? lines[0].textContent.trim() : '',
      address: last ? last.textContent.trim() : '',
      rating: text(card, '.MW4etd'),
      reviews: text(card, '.UY7F9'),
      placeUrl: link ? link.href : ''
    };
  }));
})();`

// extractPlaceJS reads website, phone and address from an opened place page.
const extractPlaceJS = `(function () {
  const first = (selectors, read) => {
    for (const sel of selectors) {
      const node = document.querySelector(sel);
      if (node) {
        const v = read(node);
        if (v) {
          return v;
        }
      }
    }
    return '';
  };
  const href = n => n.href || n.getAttribute('href') || '';
  const label = n => (n.getAttribute('aria-label') || n.textContent || '').trim();
  return JSON.stringify({
    website: first([
      'a[data-item-id="authority"]',
      'a[data-item-id="website"]',
      'a[aria-label^="Website"]',
      'a[href^="https://www.google.com/url?"][aria-label*="Website"]'
    ], href),
    phone: first([
      'button[data-item-id^="phone:tel"]',
      'a[href^="tel:"]',
      '[data-item-id*="phone"]'
    ], n => n.getAttribute('data-item-id') || href(n) || label(n)),
    address: first(['[data-item-id*="address"]'], label)
  });
})();`
